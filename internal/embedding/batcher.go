package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/contextai/internal/aierr"
	"github.com/rcliao/contextai/internal/cache"
)

// ErrClosed is returned for tasks submitted to, or left queued in, a closed batcher.
var ErrClosed = errors.New("embedding batcher closed")

// Priority selects how a request is scheduled.
type Priority int

const (
	// PriorityNormal requests are queued and embedded in batches.
	PriorityNormal Priority = iota
	// PriorityUrgent requests bypass the queue and are embedded alone.
	PriorityUrgent
)

// Default batching parameters.
const (
	DefaultBatchSize     = 20
	DefaultFlushInterval = 5 * time.Second
)

// BatchObserver receives the size of every batch sent to the provider.
type BatchObserver interface {
	ObserveBatch(size int, err error)
}

type result struct {
	vec Vector
	err error
}

type task struct {
	text string
	res  chan result // buffered; exactly one send
}

// Batcher coalesces normal-priority embedding requests into batch calls and
// caches every computed vector.
type Batcher struct {
	embedder      Embedder
	cache         *cache.Cache[[]float32]
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger
	observer      BatchObserver

	mu       sync.Mutex
	queue    []*task
	flushing bool
	started  bool
	closed   bool

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithBatchSize overrides the size trigger.
func WithBatchSize(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithFlushInterval overrides the periodic flush interval.
func WithFlushInterval(d time.Duration) BatcherOption {
	return func(b *Batcher) {
		if d > 0 {
			b.flushInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) BatcherOption {
	return func(b *Batcher) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithObserver reports batch sizes, typically to metrics.
func WithObserver(o BatchObserver) BatcherOption {
	return func(b *Batcher) { b.observer = o }
}

// NewBatcher creates a batcher over embedder, caching results in c.
// Call Start to run the periodic flush.
func NewBatcher(embedder Embedder, c *cache.Cache[[]float32], opts ...BatcherOption) *Batcher {
	b := &Batcher{
		embedder:      embedder,
		cache:         c,
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		logger:        zap.NewNop(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Start runs the periodic flush loop until Close.
func (b *Batcher) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.closed {
		return
	}
	b.started = true
	go b.loop()
}

func (b *Batcher) loop() {
	defer close(b.done)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.Flush(context.Background())
		case <-b.stop:
			return
		}
	}
}

// Add returns the embedding of text, from cache when possible.
func (b *Batcher) Add(ctx context.Context, text string, priority Priority) (Vector, error) {
	key := cache.HashText(text)
	if v, ok := b.cache.Get(key); ok {
		return v, nil
	}

	if priority == PriorityUrgent {
		return b.embedOne(ctx, text, key)
	}

	t := &task{text: text, res: make(chan result, 1)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.queue = append(b.queue, t)
	full := len(b.queue) >= b.batchSize
	b.mu.Unlock()

	if full {
		go b.Flush(context.Background())
	}

	select {
	case r := <-t.res:
		return r.vec, r.err
	case <-ctx.Done():
		// The task still resolves later; its cache write is harmless.
		return nil, aierr.Wrap(aierr.KindEmbedding, "embedding wait", ctx.Err())
	}
}

func (b *Batcher) embedOne(ctx context.Context, text, key string) (Vector, error) {
	v, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return nil, aierr.Wrap(aierr.KindEmbedding, "embed", err)
	}
	b.cache.Set(key, v)
	return v, nil
}

// Flush embeds up to one batch of queued tasks. It reports whether a batch
// was sent; a call made while another flush is in flight does nothing.
func (b *Batcher) Flush(ctx context.Context) bool {
	b.mu.Lock()
	if b.flushing || len(b.queue) == 0 {
		b.mu.Unlock()
		return false
	}
	b.flushing = true
	n := min(b.batchSize, len(b.queue))
	batch := make([]*task, n)
	copy(batch, b.queue[:n])
	b.queue = b.queue[n:]
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.flushing = false
		b.mu.Unlock()
	}()

	texts := make([]string, len(batch))
	for i, t := range batch {
		texts[i] = t.text
	}

	start := time.Now()
	vecs, err := b.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) != len(batch) {
		err = fmt.Errorf("embed batch: got %d vectors for %d texts", len(vecs), len(batch))
	}
	if b.observer != nil {
		b.observer.ObserveBatch(len(batch), err)
	}

	if err != nil {
		err = aierr.Wrap(aierr.KindEmbedding, "embed batch", err)
		b.logger.Warn("embedding batch failed",
			zap.Int("size", len(batch)), zap.Error(err))
		for _, t := range batch {
			t.res <- result{err: err}
		}
		return true
	}

	for i, t := range batch {
		b.cache.Set(cache.HashText(t.text), vecs[i])
		t.res <- result{vec: vecs[i]}
	}
	b.logger.Debug("embedding batch flushed",
		zap.Int("size", len(batch)), zap.Duration("duration", time.Since(start)))
	return true
}

// Pending returns the number of queued tasks.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close stops the flush loop, makes a final attempt to drain the queue, and
// rejects whatever is still queued with ErrClosed.
func (b *Batcher) Close(ctx context.Context) {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		started := b.started
		b.mu.Unlock()

		close(b.stop)
		if started {
			<-b.done
		}

		for b.Pending() > 0 && b.Flush(ctx) {
		}

		b.mu.Lock()
		left := b.queue
		b.queue = nil
		b.mu.Unlock()
		for _, t := range left {
			t.res <- result{err: ErrClosed}
		}
	})
}
