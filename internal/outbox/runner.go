package outbox

import (
	"context"
	"sync"
	"time"

	"potluck-chat/internal/events"

	"go.uber.org/zap"
)

type Runner struct {
	processor *Processor
	wg        sync.WaitGroup
}

func NewRunner(processor *Processor) *Runner {
	return &Runner{processor: processor}
}

func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.processor.Run(ctx)
	}()
}

// Wait blocks until the processor has drained after its context was cancelled.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func DefaultProcessor(sink events.Sink, log *zap.Logger) *Processor {
	return NewProcessor(sink, log, 100, time.Millisecond*500, 3, 4096)
}
