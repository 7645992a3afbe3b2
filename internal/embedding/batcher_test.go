package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/contextai/internal/aierr"
	"github.com/rcliao/contextai/internal/cache"
)

// fakeEmbedder maps each text to a one-element vector holding its length.
type fakeEmbedder struct {
	mu         sync.Mutex
	batches    [][]string
	single     atomic.Int32
	err        error
	short      bool          // return one vector fewer than requested
	block      chan struct{} // when set, EmbedBatch waits for it to close
	batchEnter chan struct{}
}

func vecFor(text string) Vector { return Vector{float32(len(text))} }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	f.single.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return vecFor(text), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if f.batchEnter != nil {
		f.batchEnter <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Vector, 0, len(texts))
	for _, t := range texts {
		out = append(out, vecFor(t))
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *fakeEmbedder) Dims() int { return 1 }

func (f *fakeEmbedder) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func newTestBatcher(t *testing.T, f *fakeEmbedder, opts ...BatcherOption) *Batcher {
	t.Helper()
	opts = append([]BatcherOption{WithFlushInterval(time.Hour)}, opts...)
	b := NewBatcher(f, cache.New[[]float32](100, time.Hour), opts...)
	t.Cleanup(func() { b.Close(context.Background()) })
	return b
}

type addResult struct {
	text string
	vec  Vector
	err  error
}

func addAsync(b *Batcher, texts ...string) <-chan addResult {
	out := make(chan addResult, len(texts))
	for _, text := range texts {
		go func(text string) {
			v, err := b.Add(context.Background(), text, PriorityNormal)
			out <- addResult{text: text, vec: v, err: err}
		}(text)
	}
	return out
}

func TestBatcher_SizeTriggerAlignsResults(t *testing.T) {
	f := &fakeEmbedder{}
	b := newTestBatcher(t, f, WithBatchSize(3))

	results := addAsync(b, "a", "bb", "ccc")
	for i := 0; i < 3; i++ {
		r := <-results
		require.NoError(t, r.err)
		assert.Equal(t, vecFor(r.text), r.vec, "task for %q got another task's vector", r.text)
	}
	assert.Equal(t, 1, f.batchCount())
	assert.Zero(t, f.single.Load())
}

func TestBatcher_FlushTakesAtMostBatchSize(t *testing.T) {
	f := &fakeEmbedder{}
	b := newTestBatcher(t, f, WithBatchSize(10))

	results := addAsync(b, "1", "22", "333", "4444")
	require.Eventually(t, func() bool { return b.Pending() == 4 }, time.Second, time.Millisecond)

	b.batchSize = 3
	require.True(t, b.Flush(context.Background()))
	assert.Equal(t, 1, b.Pending())
	require.True(t, b.Flush(context.Background()))
	assert.False(t, b.Flush(context.Background()), "empty queue does nothing")

	for i := 0; i < 4; i++ {
		r := <-results
		require.NoError(t, r.err)
		assert.Equal(t, vecFor(r.text), r.vec)
	}
	assert.Equal(t, 2, f.batchCount())
}

func TestBatcher_CacheHitSkipsProvider(t *testing.T) {
	f := &fakeEmbedder{}
	b := newTestBatcher(t, f)

	v, err := b.Add(context.Background(), "hello", PriorityUrgent)
	require.NoError(t, err)
	assert.Equal(t, vecFor("hello"), v)

	v, err = b.Add(context.Background(), "hello", PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, vecFor("hello"), v)
	assert.Equal(t, int32(1), f.single.Load())
	assert.Zero(t, b.Pending())
}

func TestBatcher_UrgentBypassesQueue(t *testing.T) {
	f := &fakeEmbedder{}
	b := newTestBatcher(t, f)

	_, err := b.Add(context.Background(), "now please", PriorityUrgent)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.single.Load())
	assert.Zero(t, f.batchCount())
}

func TestBatcher_UrgentFailureIsTagged(t *testing.T) {
	f := &fakeEmbedder{err: errors.New("503")}
	b := newTestBatcher(t, f)

	_, err := b.Add(context.Background(), "x", PriorityUrgent)
	require.Error(t, err)
	assert.Equal(t, aierr.KindEmbedding, aierr.KindOf(err))
}

func TestBatcher_FailureRejectsWholeBatch(t *testing.T) {
	f := &fakeEmbedder{err: errors.New("provider down")}
	b := newTestBatcher(t, f, WithBatchSize(3))

	results := addAsync(b, "a", "b", "c")
	var errs []error
	for i := 0; i < 3; i++ {
		r := <-results
		require.Error(t, r.err)
		assert.Nil(t, r.vec)
		errs = append(errs, r.err)
	}
	assert.Same(t, errs[0], errs[1])
	assert.Same(t, errs[1], errs[2])
	assert.Equal(t, aierr.KindEmbedding, aierr.KindOf(errs[0]))
}

func TestBatcher_CountMismatchRejectsBatch(t *testing.T) {
	f := &fakeEmbedder{short: true}
	b := newTestBatcher(t, f, WithBatchSize(2))

	results := addAsync(b, "a", "b")
	for i := 0; i < 2; i++ {
		r := <-results
		assert.Error(t, r.err)
	}
	_, ok := b.cache.Get(cache.HashText("a"))
	assert.False(t, ok, "no partial success is cached")
}

func TestBatcher_ConcurrentFlushIsNoop(t *testing.T) {
	f := &fakeEmbedder{block: make(chan struct{}), batchEnter: make(chan struct{}, 1)}
	b := newTestBatcher(t, f, WithBatchSize(100))

	results := addAsync(b, "a", "b")
	require.Eventually(t, func() bool { return b.Pending() == 2 }, time.Second, time.Millisecond)

	b.batchSize = 1
	go b.Flush(context.Background())
	<-f.batchEnter

	assert.False(t, b.Flush(context.Background()), "flush while one is in flight is a no-op")
	assert.Equal(t, 1, b.Pending())

	close(f.block)
	require.Eventually(t, func() bool { return !b.Flush(context.Background()) && b.Pending() == 0 },
		time.Second, time.Millisecond)
	<-f.batchEnter

	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
	}
}

func TestBatcher_PeriodicFlush(t *testing.T) {
	f := &fakeEmbedder{}
	b := NewBatcher(f, cache.New[[]float32](10, time.Hour),
		WithBatchSize(20), WithFlushInterval(10*time.Millisecond))
	b.Start()
	defer b.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := b.Add(ctx, "lonely", PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, vecFor("lonely"), v)
}

func TestBatcher_CallerGivesUp(t *testing.T) {
	f := &fakeEmbedder{}
	b := newTestBatcher(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Add(ctx, "never flushed", PriorityNormal)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	require.True(t, b.Flush(context.Background()))
	_, ok := b.cache.Get(cache.HashText("never flushed"))
	assert.True(t, ok, "abandoned task still populates the cache")
}

func TestBatcher_CloseDrainsAndRejects(t *testing.T) {
	f := &fakeEmbedder{}
	b := NewBatcher(f, cache.New[[]float32](10, time.Hour), WithFlushInterval(time.Hour))
	b.Start()

	results := addAsync(b, "queued")
	require.Eventually(t, func() bool { return b.Pending() == 1 }, time.Second, time.Millisecond)

	b.Close(context.Background())
	r := <-results
	require.NoError(t, r.err, "close attempts a final flush")

	_, err := b.Add(context.Background(), "late", PriorityNormal)
	assert.ErrorIs(t, err, ErrClosed)
	b.Close(context.Background())
}

func TestBatcher_ManyConcurrentCallers(t *testing.T) {
	f := &fakeEmbedder{}
	b := newTestBatcher(t, f, WithBatchSize(5))

	texts := make([]string, 25)
	for i := range texts {
		texts[i] = fmt.Sprintf("message-%02d", i)
	}
	results := addAsync(b, texts...)

	deadline := time.After(2 * time.Second)
	for got := 0; got < len(texts); {
		select {
		case r := <-results:
			require.NoError(t, r.err)
			assert.Equal(t, vecFor(r.text), r.vec)
			got++
		case <-deadline:
			t.Fatalf("only %d of %d tasks resolved", got, len(texts))
		case <-time.After(5 * time.Millisecond):
			// Size triggers racing an in-flight flush become no-ops.
			b.Flush(context.Background())
		}
	}
}
