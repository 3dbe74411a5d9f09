package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/amerfu/proxyd/internal/stream"
)

// DecodeSSE reads a Server-Sent-Events body and emits one stream.Chunk
// per "data:" frame, closing the returned channel when body is
// exhausted or ctx is done. It is the Upstream Forwarder's half of the
// C9/C8 boundary: SSE framing is this package's concern, mid-stream
// security re-analysis is the stream package's.
func DecodeSSE(ctx context.Context, body io.ReadCloser) <-chan stream.Chunk {
	out := make(chan stream.Chunk)

	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				data, ok = strings.CutPrefix(line, "data:")
				if !ok {
					continue
				}
			}
			data = strings.TrimSpace(data)
			if data == "" {
				continue
			}

			if data == "[DONE]" {
				select {
				case out <- stream.Chunk{Raw: []byte(line), Payload: []byte(data), Done: true}:
				case <-ctx.Done():
				}
				return
			}

			chunk := decodeStreamFrame(line, data)
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func decodeStreamFrame(raw, data string) stream.Chunk {
	var resp StreamResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return stream.Chunk{Raw: []byte(raw), Payload: []byte(data)}
	}

	chunk := stream.Chunk{Raw: []byte(raw), Payload: []byte(data)}
	if len(resp.Choices) > 0 {
		if text, ok := resp.Choices[0].Delta.Content.(string); ok {
			chunk.DeltaText = text
		}
		if resp.Choices[0].FinishReason != "" {
			chunk.Done = true
		}
	}
	return chunk
}
