// Package stream implements the Stream Interceptor (C8): a
// mid-streaming guard that re-runs the Security Engine's response
// analyzer against the buffered assistant text every N chunks and can
// terminate forwarding without blocking the copy loop, grounded on
// _examples/original_source/proxy/app/core/streaming_interceptor.py's
// StreamContext/StreamState fused with the teacher's SSE chunk loop in
// internal/handlers/messages.go's handleStreamingMessages.
package stream

import (
	"strings"
	"sync"
	"time"

	"github.com/amerfu/proxyd/internal/security"
)

// State is a stream session's lifecycle state. Only Active→Terminated
// is caused by a security verdict; Paused is reserved for budget
// mid-stream pauses; Completed is terminal on upstream end.
type State string

const (
	StateActive     State = "active"
	StatePaused     State = "paused"
	StateTerminated State = "terminated"
	StateCompleted  State = "completed"
)

// Usage is the authoritative token count carried on a stream's
// terminal chunk (most providers emit it only once, on the last SSE
// frame).
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Chunk is one decoded SSE frame. Raw is forwarded to the client
// byte-for-byte; Payload is the bare JSON payload (the "data:" prefix
// and SSE framing stripped), fed to the token meter's stream
// accumulator for authoritative usage extraction; DeltaText is the
// decoded assistant text delta used for accumulation and mid-stream
// security scanning. SSE framing itself is the Upstream Forwarder's
// concern (C9); this package only consumes the parsed result.
type Chunk struct {
	Raw       []byte
	Payload   []byte
	DeltaText string
	Usage     *Usage
	Done      bool
}

// Context is the per-session state the interceptor tracks across a
// stream's lifetime, grounded on streaming_interceptor.py's
// StreamContext.
type Context struct {
	SessionID string
	AgentID   string
	Model     string
	Provider  string
	Messages  []security.MessagePart

	StartedAt time.Time

	mu               sync.Mutex
	accumulated      strings.Builder
	bytesSinceCheck  int
	chunkCount       int
	lastChunkAt      time.Time
	state            State
	inputTokens      int
	outputTokens     int
	terminatedReason string

	killCh chan struct{}
}

func newContext(sessionID, agentID, model, provider string, messages []security.MessagePart) *Context {
	now := time.Now()
	return &Context{
		SessionID: sessionID,
		AgentID:   agentID,
		Model:     model,
		Provider:  provider,
		Messages:  append([]security.MessagePart(nil), messages...),
		StartedAt: now,
		state:     StateActive,
		lastChunkAt: now,
		killCh:    make(chan struct{}, 1),
	}
}

// State reports the session's current lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ChunkCount reports how many chunks have been processed so far.
func (c *Context) ChunkCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunkCount
}

// LastChunkAt reports when the most recent chunk was observed, for an
// idle-timeout watchdog to consult.
func (c *Context) LastChunkAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastChunkAt
}

// Usage reports the accumulated token counts seen so far.
func (c *Context) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Usage{InputTokens: c.inputTokens, OutputTokens: c.outputTokens}
}

// AccumulatedText returns the assistant text accumulated so far.
func (c *Context) AccumulatedText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accumulated.String()
}

// ContinuationMessages returns the original messages plus the
// accumulated assistant response, for re-issuing the conversation
// against a different model after a mid-stream termination, grounded
// on streaming_interceptor.py's get_messages_for_continuation.
func (c *Context) ContinuationMessages() []security.MessagePart {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]security.MessagePart(nil), c.Messages...)
	if acc := c.accumulated.String(); acc != "" {
		out = append(out, security.MessagePart{Role: "assistant", Content: acc})
	}
	return out
}

// RequestKill asks the interceptor to stop forwarding this session's
// chunks as soon as it next checks, without blocking the caller if the
// signal has already been sent or the session has already ended.
func (c *Context) RequestKill(reason string) {
	c.mu.Lock()
	if c.terminatedReason == "" {
		c.terminatedReason = reason
	}
	c.mu.Unlock()
	select {
	case c.killCh <- struct{}{}:
	default:
	}
}
