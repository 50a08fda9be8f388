package receipt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zombor/home-inventory/internal/preprocess"
	"github.com/zombor/home-inventory/internal/worker"
)

// Task is a receipt being processed in the background
type Task struct {
	ID     string
	cancel context.CancelFunc
	done   chan struct{}
	draft  *Draft
	err    error
}

// Cancel stops the task if OCR has not finished yet
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed when the task finishes
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result waits for the task and returns its outcome. A failed receipt is
// returned together with its error, as from Service.ProcessReceipt.
func (t *Task) Result() (*Draft, error) {
	<-t.done
	return t.draft, t.err
}

// Processor runs ProcessReceipt on a worker pool so callers never block on
// OCR
type Processor struct {
	service *Service
	pool    *worker.Pool
}

// NewProcessor creates a Processor and starts the pool
func NewProcessor(service *Service, pool *worker.Pool) *Processor {
	pool.Start()
	return &Processor{service: service, pool: pool}
}

// Submit queues an upload. ctx bounds both queueing and the task itself;
// Task.Cancel cancels just the task.
func (p *Processor) Submit(ctx context.Context, upload Upload, level preprocess.Level) (*Task, error) {
	taskCtx, cancel := context.WithCancel(ctx)
	task := &Task{
		ID:     p.service.idGenerator.Generate(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	err := p.pool.Submit(ctx, func() {
		defer close(task.done)
		defer cancel()
		task.draft, task.err = p.service.ProcessReceipt(taskCtx, upload, level)
		if task.err != nil {
			slog.Warn("Receipt task failed", "task_id", task.ID, "filename", upload.Filename, "error", task.err)
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("queueing receipt: %w", err)
	}

	slog.Debug("Receipt task queued", "task_id", task.ID, "filename", upload.Filename)
	return task, nil
}

// Close waits for queued tasks and stops the pool
func (p *Processor) Close() {
	p.pool.Close()
	p.pool.Wait()
}
