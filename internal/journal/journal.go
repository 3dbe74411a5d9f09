package journal

import (
	"context"

	"go.uber.org/zap"
)

// Repository is the Journal's persistence boundary.
type Repository interface {
	SaveRecord(ctx context.Context, r *Record) error
}

// Writer is the Journal's background sink: Record() enqueues onto a
// bounded channel and returns immediately; a single goroutine drains
// it and persists each Record, grounded on the teacher's
// BudgetService.alertCh + startAlertProcessor shape
// (internal/services/budget/service.go).
//
// Per spec §4.11, a full queue is never silently dropped: Record()
// fatally exits the process rather than lose a Record, since the spec
// treats journal loss as worse than a crash. The writer's own
// persistence failures, by contrast, are logged and never surfaced
// (spec §4.11 "the Journal's own writer failure is logged, never
// surfaced").
type Writer struct {
	repo   Repository
	logger *zap.Logger
	ch     chan *Record
	stopCh chan struct{}
}

// New builds a Writer with the given bounded queue size and starts its
// background drain goroutine.
func New(repo Repository, queueSize int, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 4096
	}
	w := &Writer{
		repo:   repo,
		logger: logger,
		ch:     make(chan *Record, queueSize),
		stopCh: make(chan struct{}),
	}
	go w.run()
	return w
}

// Record enqueues r for background persistence. Non-blocking on the
// common path; fatally exits if the bounded queue is full, per spec
// §4.11's "dropped on backpressure is not allowed" requirement.
func (w *Writer) Record(r *Record) {
	select {
	case w.ch <- r:
	default:
		w.logger.Fatal("journal: queue overflow, record would be lost",
			zap.String("request_id", r.RequestID))
	}
}

func (w *Writer) run() {
	for {
		select {
		case r := <-w.ch:
			w.persist(r)
		case <-w.stopCh:
			w.drain()
			return
		}
	}
}

// drain flushes any records still buffered at shutdown time so a
// graceful stop never loses a Record already accepted by Record().
func (w *Writer) drain() {
	for {
		select {
		case r := <-w.ch:
			w.persist(r)
		default:
			return
		}
	}
}

func (w *Writer) persist(r *Record) {
	if err := w.repo.SaveRecord(context.Background(), r); err != nil {
		w.logger.Error("journal: save record failed",
			zap.String("request_id", r.RequestID), zap.Error(err))
	}
}

// Stop signals the background goroutine to flush the remaining queue
// and exit. Safe to call once during graceful shutdown.
func (w *Writer) Stop() {
	close(w.stopCh)
}
