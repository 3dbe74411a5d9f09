package journal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu      sync.Mutex
	saved   []*Record
	saveErr error
}

func (f *fakeRepo) SaveRecord(ctx context.Context, r *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, r)
	return nil
}

func (f *fakeRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func TestRecordPersistsInBackground(t *testing.T) {
	repo := &fakeRepo{}
	w := New(repo, 16, nil)
	defer w.Stop()

	w.Record(&Record{RequestID: "req-1"})
	w.Record(&Record{RequestID: "req-2"})

	require.Eventually(t, func() bool { return repo.count() == 2 }, time.Second, time.Millisecond)
}

func TestRecordDoesNotBlockCallerUnderNormalLoad(t *testing.T) {
	repo := &fakeRepo{}
	w := New(repo, 16, nil)
	defer w.Stop()

	start := time.Now()
	for i := 0; i < 10; i++ {
		w.Record(&Record{RequestID: "req"})
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPersistFailureIsLoggedNotSurfaced(t *testing.T) {
	repo := &fakeRepo{saveErr: assertErr{}}
	w := New(repo, 16, nil)
	defer w.Stop()

	assert.NotPanics(t, func() {
		w.Record(&Record{RequestID: "req-err"})
		time.Sleep(10 * time.Millisecond)
	})
}

type assertErr struct{}

func (assertErr) Error() string { return "save failed" }
