package queue

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"
)

// Inline runs tasks on goroutines in the current process. It is used when no
// Redis server is configured. Scheduling options are ignored.
type Inline struct {
	handler asynq.Handler
	log     *log.Logger
	ctx     context.Context
	wg      sync.WaitGroup
}

// NewInline dispatches into handler for as long as ctx lives.
func NewInline(ctx context.Context, handler asynq.Handler, logger *log.Logger) *Inline {
	return &Inline{handler: handler, log: logger, ctx: ctx}
}

// Enqueue starts the task and returns immediately.
func (q *Inline) Enqueue(_ context.Context, taskType string, payload any, _ ...asynq.Option) error {
	task, err := NewTask(taskType, payload)
	if err != nil {
		return err
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.handler.ProcessTask(q.ctx, task); err != nil {
			q.log.Error("inline task failed", "type", taskType, "err", err)
		}
	}()
	return nil
}

// Wait blocks until every started task returned.
func (q *Inline) Wait() {
	q.wg.Wait()
}
