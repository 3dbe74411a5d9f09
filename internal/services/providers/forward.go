package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"

	"github.com/amerfu/proxyd/pkg/circuitbreaker"
)

// ErrCircuitOpen is returned by Forward when providerName has tripped
// its breaker and is being given a cooldown window before the next
// live attempt.
var ErrCircuitOpen = errors.New("provider circuit open")

// FailureClass distinguishes why an upstream call failed, per spec
// §4.9: timeout, connection-level network failure, or a surfaced
// upstream non-2xx status (not itself a Go error — see Response).
type FailureClass string

const (
	FailureTimeout    FailureClass = "timeout"
	FailureConnection FailureClass = "connection"
)

// ForwardError wraps an outbound call failure with its FailureClass so
// the Request Pipeline can map it to the right HTTP status (504 for
// timeout, 502 for connection) without re-inspecting the underlying
// error.
type ForwardError struct {
	Class FailureClass
	Err   error
}

func (e *ForwardError) Error() string { return fmt.Sprintf("%s: %v", e.Class, e.Err) }
func (e *ForwardError) Unwrap() error { return e.Err }

func classify(err error) *ForwardError {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ForwardError{Class: FailureTimeout, Err: err}
	}
	return &ForwardError{Class: FailureConnection, Err: err}
}

// ProviderSpec is one provider's static connection info: base URL,
// the header carrying the caller's pass-through credential, and an
// optional fixed version header, grounded on pricing_data.py's
// PROVIDER_BASE_URLS plus the teacher's per-provider header-setting
// calls (anthropic.go's "x-api-key"/"anthropic-version",
// openai.go's "Authorization").
type ProviderSpec struct {
	Name          string
	BaseURL       string
	AuthHeader    string // e.g. "Authorization" or "x-api-key"
	AuthPrefix    string // e.g. "Bearer " ; empty for raw key headers
	VersionHeader string // e.g. "anthropic-version" ; empty if none
	VersionValue  string
}

// DefaultProviderTable is the static provider table, grounded on
// pricing_data.py's PROVIDER_BASE_URLS extended with each provider's
// credential/version header shape from the teacher's provider clients.
var DefaultProviderTable = map[string]ProviderSpec{
	"anthropic": {
		Name: "anthropic", BaseURL: "https://api.anthropic.com",
		AuthHeader: "x-api-key", VersionHeader: "anthropic-version", VersionValue: "2023-06-01",
	},
	"openai": {
		Name: "openai", BaseURL: "https://api.openai.com",
		AuthHeader: "Authorization", AuthPrefix: "Bearer ",
	},
	"google": {
		Name: "google", BaseURL: "https://generativelanguage.googleapis.com",
		AuthHeader: "x-goog-api-key",
	},
	"deepseek": {
		Name: "deepseek", BaseURL: "https://api.deepseek.com",
		AuthHeader: "Authorization", AuthPrefix: "Bearer ",
	},
	"groq": {
		Name: "groq", BaseURL: "https://api.groq.com/openai",
		AuthHeader: "Authorization", AuthPrefix: "Bearer ",
	},
	"mistral": {
		Name: "mistral", BaseURL: "https://api.mistral.ai",
		AuthHeader: "Authorization", AuthPrefix: "Bearer ",
	},
}

const (
	unaryTimeout     = 120 * time.Second
	streamingTimeout = 180 * time.Second
)

// Forwarder is the Upstream Forwarder (C9): one outbound HTTP call per
// inbound request, against a provider resolved from a static table,
// forwarding the caller's own credential rather than a server-side
// secret so the proxy stays credential-less for upstream providers.
type Forwarder struct {
	table        map[string]ProviderSpec
	unaryClient  *http.Client
	streamClient *http.Client
	breakers     *circuitbreaker.Manager
}

// New builds a Forwarder sharing one DNS-cached transport across both
// the unary and streaming clients, replacing the teacher's
// per-provider http.Client{} zero-value transports. Transport tuning
// (idle conn pool, HTTP/2) is grounded on the pack's
// internal/provider/proxy.go NewTransport.
func New(table map[string]ProviderSpec) *Forwarder {
	resolver := &dnscache.Resolver{}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		},
	}
	go refreshDNSCachePeriodically(resolver)

	return &Forwarder{
		table:        table,
		unaryClient:  &http.Client{Timeout: unaryTimeout, Transport: transport},
		streamClient: &http.Client{Timeout: streamingTimeout, Transport: transport},
		breakers:     circuitbreaker.NewManager(5, 30*time.Second),
	}
}

func refreshDNSCachePeriodically(resolver *dnscache.Resolver) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		resolver.Refresh(true)
	}
}

// Response is a forwarded call's result. For streaming requests, Body
// is the raw upstream byte stream (SSE framing included); the caller
// decodes it into stream.Chunk values.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Forward issues one outbound call to providerName's baseURL+path,
// setting providerName's credential/version headers from credential
// (the caller's own upstream key, passed through verbatim). A non-2xx
// upstream response is returned as a Response, not an error — only
// transport-level failures (timeout, connection) return a
// *ForwardError.
func (f *Forwarder) Forward(ctx context.Context, providerName, method, path, credential string, body io.Reader, streaming bool) (*Response, error) {
	spec, ok := f.table[providerName]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}

	if f.breakers.IsOpen(providerName) {
		return nil, ErrCircuitOpen
	}

	req, err := http.NewRequestWithContext(ctx, method, spec.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if spec.AuthHeader != "" && credential != "" {
		req.Header.Set(spec.AuthHeader, spec.AuthPrefix+credential)
	}
	if spec.VersionHeader != "" {
		req.Header.Set(spec.VersionHeader, spec.VersionValue)
	}

	client := f.unaryClient
	if streaming {
		client = f.streamClient
	}

	resp, err := client.Do(req)
	if err != nil {
		f.breakers.RecordFailure(providerName)
		return nil, classify(err)
	}

	// Upstream 5xx counts as a breaker failure even though it is
	// surfaced to the caller as a Response, not an error; a string of
	// 500s from a provider should still trip the breaker the same as
	// a run of timeouts.
	if resp.StatusCode >= 500 {
		f.breakers.RecordFailure(providerName)
	} else {
		f.breakers.RecordSuccess(providerName)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}
