package outbox

import (
	"context"
	"sync/atomic"
	"time"

	"potluck-chat/internal/events"

	"go.uber.org/zap"
)

// Processor buffers domain events in memory and publishes them to a sink in batches.
// Enqueue never blocks; a full queue drops the event.
type Processor struct {
	sink       events.Sink
	queue      chan events.Envelope
	batchSize  int
	interval   time.Duration
	maxRetries int
	backoff    time.Duration
	log        *zap.Logger

	dropped atomic.Int64
	failed  atomic.Int64
}

func NewProcessor(sink events.Sink, log *zap.Logger, batchSize int, interval time.Duration, maxRetries, queueSize int) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		sink:       sink,
		queue:      make(chan events.Envelope, queueSize),
		batchSize:  batchSize,
		interval:   interval,
		maxRetries: maxRetries,
		backoff:    100 * time.Millisecond,
		log:        log,
	}
}

// Enqueue reports whether the event was accepted.
func (p *Processor) Enqueue(env events.Envelope) bool {
	select {
	case p.queue <- env:
		return true
	default:
		p.dropped.Add(1)
		p.log.Warn("outbox queue full, event dropped", zap.String("event_type", env.EventType))
		return false
	}
}

func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	batch := make([]events.Envelope, 0, p.batchSize)
	for {
		select {
		case <-ctx.Done():
			p.drain(batch)
			return
		case env := <-p.queue:
			batch = append(batch, env)
			if len(batch) >= p.batchSize {
				p.processBatch(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				p.processBatch(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (p *Processor) processBatch(ctx context.Context, batch []events.Envelope) {
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err = p.sink.Publish(ctx, batch...); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			attempt = p.maxRetries
		case <-time.After(p.backoff * time.Duration(attempt+1)):
		}
	}
	p.failed.Add(int64(len(batch)))
	p.log.Error("outbox publish failed, events dropped", zap.Int("count", len(batch)), zap.Error(err))
}

// drain flushes what is buffered with a short deadline of its own.
func (p *Processor) drain(batch []events.Envelope) {
	for {
		select {
		case env := <-p.queue:
			batch = append(batch, env)
			continue
		default:
		}
		break
	}
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.sink.Publish(ctx, batch...); err != nil {
		p.failed.Add(int64(len(batch)))
		p.log.Error("outbox drain failed", zap.Int("count", len(batch)), zap.Error(err))
	}
}

// Dropped returns how many events were rejected by a full queue.
func (p *Processor) Dropped() int64 {
	return p.dropped.Load()
}

// Failed returns how many events were given up after retries.
func (p *Processor) Failed() int64 {
	return p.failed.Load()
}
