package providers

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCloser struct{ io.Reader }

func (nopCloser) Close() error { return nil }

func TestDecodeSSEEmitsDeltaTextThenDone(t *testing.T) {
	body := `data: {"id":"1","choices":[{"index":0,"delta":{"content":"hel"}}]}

data: {"id":"1","choices":[{"index":0,"delta":{"content":"lo"}}]}

data: [DONE]

`
	out := DecodeSSE(context.Background(), nopCloser{strings.NewReader(body)})

	var got []string
	var sawDone bool
	for c := range out {
		if c.Done {
			sawDone = true
			continue
		}
		got = append(got, c.DeltaText)
	}

	require.True(t, sawDone)
	require.Len(t, got, 2)
	assert.Equal(t, "hel", got[0])
	assert.Equal(t, "lo", got[1])
}

func TestDecodeSSEStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body := `data: {"id":"1","choices":[{"index":0,"delta":{"content":"x"}}]}

`
	out := DecodeSSE(ctx, nopCloser{strings.NewReader(body)})

	select {
	case _, ok := <-out:
		_ = ok
	case <-time.After(time.Second):
		t.Fatal("expected channel to close promptly on canceled context")
	}
}
