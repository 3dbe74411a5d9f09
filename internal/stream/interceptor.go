package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amerfu/proxyd/internal/security"
)

// defaultCheckEveryChunks and defaultCheckEveryBytes are the
// check-every-N-chunks cadence from streaming_interceptor.py's
// intercept_stream(check_interval=10), plus a byte-count trigger for
// providers that emit few, large chunks.
const (
	defaultCheckEveryChunks = 10
	defaultCheckEveryBytes  = 4096
)

// Interceptor wraps a provider's chunk stream with periodic
// re-analysis by the Security Engine, per spec §4.8.
type Interceptor struct {
	security         *security.Engine
	checkEveryChunks int
	checkEveryBytes  int
	logger           *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Context
}

// New builds an Interceptor. checkEveryChunks/checkEveryBytes default
// to 10 chunks / 4KB when zero.
func New(secEngine *security.Engine, checkEveryChunks, checkEveryBytes int, logger *zap.Logger) *Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkEveryChunks <= 0 {
		checkEveryChunks = defaultCheckEveryChunks
	}
	if checkEveryBytes <= 0 {
		checkEveryBytes = defaultCheckEveryBytes
	}
	return &Interceptor{
		security:         secEngine,
		checkEveryChunks: checkEveryChunks,
		checkEveryBytes:  checkEveryBytes,
		logger:           logger,
		sessions:         map[string]*Context{},
	}
}

// Start registers a new streaming session, grounded on
// streaming_interceptor.py's start_stream.
func (i *Interceptor) Start(sessionID, agentID, model, provider string, messages []security.MessagePart) *Context {
	c := newContext(sessionID, agentID, model, provider, messages)
	i.mu.Lock()
	i.sessions[sessionID] = c
	i.mu.Unlock()
	return c
}

// Get returns the session's Context, grounded on
// streaming_interceptor.py's get_stream_context.
func (i *Interceptor) Get(sessionID string) (*Context, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	c, ok := i.sessions[sessionID]
	return c, ok
}

// End removes a completed or terminated session's bookkeeping entry.
// The original request body is never retained past this call.
func (i *Interceptor) End(sessionID string) {
	i.mu.Lock()
	delete(i.sessions, sessionID)
	i.mu.Unlock()
}

// Intercept consumes upstream, forwarding each Chunk to the returned
// channel while tracking usage, accumulating assistant text, and
// periodically re-running the Security Engine's response analyzer.
// On a security-driven kill or an explicit Context.RequestKill, it
// stops forwarding and closes the output channel without waiting for
// upstream to drain; it does not itself close or cancel upstream —
// the caller's forwarder owns that via ctx cancellation.
func (i *Interceptor) Intercept(ctx context.Context, c *Context, upstream <-chan Chunk) <-chan Chunk {
	out := make(chan Chunk)

	go func() {
		defer close(out)
		defer i.finish(c)

		for {
			select {
			case <-ctx.Done():
				i.terminate(c, "context canceled")
				return
			case <-c.killCh:
				i.terminate(c, "kill requested")
				return
			case chunk, ok := <-upstream:
				if !ok {
					i.complete(c)
					return
				}
				if i.observe(ctx, c, chunk) {
					i.terminate(c, "security verdict")
					return
				}

				select {
				case out <- chunk:
				case <-ctx.Done():
					i.terminate(c, "context canceled")
					return
				}

				if chunk.Done {
					i.complete(c)
					return
				}
			}
		}
	}()

	return out
}

// observe updates accumulated usage/text for chunk and, if a
// mid-stream security check is due, runs it. It reports whether the
// stream should be killed.
func (i *Interceptor) observe(ctx context.Context, c *Context, chunk Chunk) bool {
	c.mu.Lock()
	c.lastChunkAt = time.Now()
	c.chunkCount++
	c.accumulated.WriteString(chunk.DeltaText)
	c.bytesSinceCheck += len(chunk.DeltaText)
	if chunk.Usage != nil {
		c.inputTokens = chunk.Usage.InputTokens
		c.outputTokens = chunk.Usage.OutputTokens
	}
	due := c.chunkCount%i.checkEveryChunks == 0 || c.bytesSinceCheck >= i.checkEveryBytes
	var text string
	if due {
		c.bytesSinceCheck = 0
		text = c.accumulated.String()
	}
	c.mu.Unlock()

	if !due || i.security == nil {
		return false
	}

	summary := i.security.AnalyzeResponse(ctx, c.AgentID, security.ResponseData{
		AgentID: c.AgentID,
		Content: text,
	})
	if summary.HasAction(security.ActionKill) || summary.HasAction(security.ActionBlock) {
		i.logger.Warn("stream: mid-stream security verdict, terminating",
			zap.String("session_id", c.SessionID), zap.String("max_severity", string(summary.MaxSeverity)))
		return true
	}
	return false
}

func (i *Interceptor) terminate(c *Context, reason string) {
	c.mu.Lock()
	c.state = StateTerminated
	if c.terminatedReason == "" {
		c.terminatedReason = reason
	}
	c.mu.Unlock()
}

func (i *Interceptor) complete(c *Context) {
	c.mu.Lock()
	if c.state == StateActive {
		c.state = StateCompleted
	}
	c.mu.Unlock()
}

func (i *Interceptor) finish(c *Context) {
	i.logger.Debug("stream: session ended",
		zap.String("session_id", c.SessionID), zap.String("state", string(c.State())),
		zap.Int("chunks", c.ChunkCount()))
}
