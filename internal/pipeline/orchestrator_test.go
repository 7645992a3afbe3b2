package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/contextai/internal/aierr"
	"github.com/rcliao/contextai/internal/cache"
	"github.com/rcliao/contextai/internal/embedding"
	"github.com/rcliao/contextai/internal/failure"
	"github.com/rcliao/contextai/internal/llm"
	"github.com/rcliao/contextai/internal/model"
	"github.com/rcliao/contextai/internal/reprocess"
	"github.com/rcliao/contextai/internal/store"
	"github.com/rcliao/contextai/internal/transport"
	"github.com/rcliao/contextai/internal/vectorindex"
)

const insightJSON = "```json\n" + `{
  "summary": "Dana reports a broken charger and wants it fixed quickly.",
  "intent": "support_request",
  "urgency": "high",
  "sentiment": "negative",
  "recommendations": ["Offer a replacement"],
  "extractedPreferences": {"channel": "email"},
  "suggestedResponses": ["Sorry about that, let's get it fixed."]
}` + "\n```"

type fakeVectors struct {
	err   error
	calls atomic.Int32
}

func (f *fakeVectors) Add(ctx context.Context, text string, p embedding.Priority) (embedding.Vector, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return embedding.Vector{1, 0, 0}, nil
}

type fakeLLM struct {
	reply string
	err   error
	panic bool
	calls atomic.Int32
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	f.calls.Add(1)
	if f.panic {
		panic("provider exploded")
	}
	return f.reply, f.err
}

type event struct {
	typ    string
	target transport.Target
	update transport.ContextUpdate
	action transport.NextBestAction
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event
}

func (p *recordingPublisher) PublishContextUpdate(ctx context.Context, t transport.Target, u transport.ContextUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event{typ: transport.EventContextUpdate, target: t, update: u})
	return nil
}

func (p *recordingPublisher) PublishNextAction(ctx context.Context, t transport.Target, a transport.NextBestAction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event{typ: transport.EventNextBestAction, target: t, action: a})
	return nil
}

type fixture struct {
	store    *store.SQLiteStore
	index    *vectorindex.SQLiteIndex
	tiers    *cache.Tiers
	pub      *recordingPublisher
	customer *model.CustomerProfile
	session  *model.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	idx, err := vectorindex.NewSQLiteIndex(s.DB())
	require.NoError(t, err)

	ctx := context.Background()
	c, err := s.CreateCustomer(ctx, store.CreateCustomerParams{Name: "Dana"})
	require.NoError(t, err)
	sess, err := s.CreateSession(ctx, c.ID)
	require.NoError(t, err)
	return &fixture{
		store: s, index: idx, tiers: cache.NewTiers(cache.DefaultTiersConfig()),
		pub: &recordingPublisher{}, customer: c, session: sess,
	}
}

func (f *fixture) orchestrator(vecs *fakeVectors, index vectorindex.Index, completer llm.Completer) *Orchestrator {
	deps := Deps{
		Store:     f.store,
		Index:     index,
		LLM:       completer,
		Tiers:     f.tiers,
		Publisher: f.pub,
	}
	if vecs != nil {
		deps.Vectors = vecs
	}
	return New(deps, Config{LLMTimeout: time.Second})
}

func (f *fixture) addMessage(t *testing.T, content string) *model.Message {
	t.Helper()
	m, err := f.store.AddMessage(context.Background(), store.AddMessageParams{
		CustomerID: f.customer.ID, SessionID: f.session.ID, SenderType: model.SenderCustomer, Content: content,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) input(m *model.Message) Input {
	return Input{
		CustomerID: f.customer.ID, SessionID: f.session.ID, AgentID: "agent-7",
		MessageID: m.ID, Content: m.Content, SenderType: model.SenderCustomer,
	}
}

func TestProcessWithoutVectorService(t *testing.T) {
	f := newFixture(t)
	m := f.addMessage(t, "I need this fixed ASAP, it's urgent")
	o := f.orchestrator(&fakeVectors{}, nil, &fakeLLM{reply: insightJSON})

	out := o.Process(context.Background(), f.input(m))
	o.Wait()

	assert.True(t, out.Insight.Fallback)
	assert.Equal(t, model.UrgencyCritical, out.Insight.Urgency)
	assert.Equal(t, "support_request", out.Insight.Intent)
	assert.Equal(t, failure.ReasonVectorDown, out.Insight.FallbackReason)
	assert.Equal(t, "Dana - support_request. Historical context unavailable.", out.Insight.Summary)

	require.Len(t, f.pub.events, 2)
	assert.Equal(t, "agent-7", f.pub.events[0].target.AgentID)

	stats, err := f.store.Stats(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FallbackInsights)
}

func TestProcessHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMessage(t, "Hi, I bought a charger last week")
	m := f.addMessage(t, "The charger is broken, please fix it quickly")
	fl := &fakeLLM{reply: insightJSON}
	vecs := &fakeVectors{}
	o := f.orchestrator(vecs, f.index, fl)

	out := o.Process(ctx, f.input(m))
	o.Wait()

	in := out.Insight
	require.False(t, in.Fallback, in.FallbackReason)
	assert.Equal(t, int32(1), vecs.calls.Load(), "message embedded once for search and indexing")
	assert.Equal(t, "support_request", in.Intent)
	assert.Equal(t, "high", in.Urgency)
	assert.Equal(t, map[string]any{"channel": "email"}, in.ExtractedPreferences)
	require.NotNil(t, out.Context)
	assert.Len(t, out.Context.Session.Messages, 2)
	assert.Greater(t, out.PromptTokens, 0)
	assert.True(t, out.Timings.Total > 0)

	// The last insight is cached for LLM outages.
	cached, ok := f.tiers.Insights.Get(cache.LastInsightKey(f.customer.ID))
	require.True(t, ok)
	assert.Equal(t, in.Summary, cached.Insight.Summary)

	// Customer messages are indexed under msg_<id>.
	has, err := f.index.Has(ctx, "msg_"+m.ID)
	require.NoError(t, err)
	assert.True(t, has)

	// Profile accumulated and summary regenerated once.
	p, err := f.store.FindByID(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "email", p.Preferences["channel"])
	assert.True(t, p.HasIntent("support_request"))
	assert.Equal(t, 1, p.SummaryVersion)
	assert.Equal(t, "support_request", p.UpdateTrigger)

	sess, err := f.store.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, "support_request", sess.DetectedIntent)

	require.Len(t, f.pub.events, 2)
	assert.Equal(t, transport.EventContextUpdate, f.pub.events[0].typ)
	assert.Equal(t, in.Summary, f.pub.events[0].update.Summary)
	assert.Equal(t, "Unknown", f.pub.events[0].update.Budget)
	assert.Equal(t, transport.EventNextBestAction, f.pub.events[1].typ)
	assert.Equal(t, in.SuggestedResponses, f.pub.events[1].action.Suggestions)

	insights, err := f.store.ListInsights(ctx, f.customer.ID, 10)
	require.NoError(t, err)
	assert.Len(t, insights, 1)
}

func TestProcessAgentMessageIsNotIndexed(t *testing.T) {
	f := newFixture(t)
	m := f.addMessage(t, "We shipped a replacement")
	o := f.orchestrator(&fakeVectors{}, f.index, &fakeLLM{reply: insightJSON})

	in := f.input(m)
	in.SenderType = model.SenderAgent
	o.Process(context.Background(), in)
	o.Wait()

	n, err := f.index.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessEmbeddingFailure(t *testing.T) {
	f := newFixture(t)
	m := f.addMessage(t, "hello")
	o := f.orchestrator(&fakeVectors{err: errors.New("connection refused")}, f.index, &fakeLLM{reply: insightJSON})

	out := o.Process(context.Background(), f.input(m))
	o.Wait()
	assert.Equal(t, failure.ReasonEmbeddingDown, out.Insight.FallbackReason)
	assert.Equal(t, "Customer Dana sent a message. Vector search unavailable - manual review recommended.", out.Insight.Summary)
}

func TestProcessLLMFailureUsesCachedInsight(t *testing.T) {
	f := newFixture(t)
	m := f.addMessage(t, "any update?")
	f.tiers.Insights.Set(cache.LastInsightKey(f.customer.ID), model.CachedInsight{
		Insight:  model.Insight{Summary: "Waiting on a refund", Intent: "complaint"},
		CachedAt: time.Now(),
	})
	o := f.orchestrator(&fakeVectors{}, f.index, &fakeLLM{err: errors.New("503")})

	out := o.Process(context.Background(), f.input(m))
	o.Wait()
	assert.Equal(t, "[CACHED] Waiting on a refund", out.Insight.Summary)
	assert.Equal(t, failure.ReasonCachedInsight, out.Insight.FallbackReason)
}

func TestProcessLLMTimeout(t *testing.T) {
	f := newFixture(t)
	m := f.addMessage(t, "hello")
	slow := llmFunc(func(ctx context.Context) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return insightJSON, nil
	})
	o := New(Deps{Store: f.store, Vectors: &fakeVectors{}, Index: f.index, LLM: slow, Tiers: f.tiers, Publisher: f.pub},
		Config{LLMTimeout: 20 * time.Millisecond})

	out := o.Process(context.Background(), f.input(m))
	o.Wait()
	assert.Equal(t, failure.ReasonCompleteFailed, out.Insight.FallbackReason)
	assert.Equal(t, "Message from Dana. AI processing unavailable - please review manually.", out.Insight.Summary)
}

func TestProcessRecoversPanics(t *testing.T) {
	f := newFixture(t)
	m := f.addMessage(t, "hello")
	o := f.orchestrator(&fakeVectors{}, f.index, &fakeLLM{panic: true})

	var out *Outcome
	require.NotPanics(t, func() { out = o.Process(context.Background(), f.input(m)) })
	o.Wait()
	assert.True(t, out.Insight.Fallback)
	assert.Equal(t, failure.ReasonCompleteFailed, out.Insight.FallbackReason)
	assert.Len(t, f.pub.events, 2)
}

type panickingVectors struct{}

func (panickingVectors) Add(ctx context.Context, text string, p embedding.Priority) (embedding.Vector, error) {
	panic("embedder exploded")
}

func TestProcessRecoversConcurrentStagePanics(t *testing.T) {
	f := newFixture(t)
	m := f.addMessage(t, "hello")
	fl := &fakeLLM{reply: insightJSON}
	o := New(Deps{Store: f.store, Vectors: panickingVectors{}, Index: f.index, LLM: fl, Tiers: f.tiers, Publisher: f.pub},
		Config{LLMTimeout: time.Second})

	var out *Outcome
	require.NotPanics(t, func() { out = o.Process(context.Background(), f.input(m)) })
	o.Wait()
	assert.True(t, out.Insight.Fallback)
	assert.Equal(t, failure.ReasonCompleteFailed, out.Insight.FallbackReason)
	assert.Equal(t, int32(0), fl.calls.Load())
	assert.Len(t, f.pub.events, 2)
}

func TestReturningCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMessage(t, "Do you ship to Canada?")
	_, err := f.store.MutateProfile(ctx, f.customer.ID, func(p *model.CustomerProfile) error {
		p.Tags = []string{"shipping"}
		p.ExtractedIntents = []model.IntentRecord{{Intent: "information_request"}}
		return nil
	})
	require.NoError(t, err)

	t.Run("model unavailable", func(t *testing.T) {
		fl := &fakeLLM{err: errors.New("down")}
		o := f.orchestrator(&fakeVectors{}, f.index, fl)
		in, err := o.ReturningCustomer(ctx, f.customer.ID)
		require.NoError(t, err)
		assert.True(t, in.Fallback)
		assert.Equal(t, ReasonProfileGreeting, in.FallbackReason)
		assert.Contains(t, in.Summary, "Returning customer Dana with 1 previous sessions.")
		assert.Contains(t, in.Summary, "Interests: shipping.")
		assert.Equal(t, "information_request", in.Intent)

		again, err := o.ReturningCustomer(ctx, f.customer.ID)
		require.NoError(t, err)
		assert.Equal(t, in, again)
		assert.Equal(t, int32(1), fl.calls.Load(), "second call is served from cache")
	})

	t.Run("model reply", func(t *testing.T) {
		f.tiers.Clear()
		o := f.orchestrator(&fakeVectors{}, f.index, &fakeLLM{reply: `{"summary":"Welcome back Dana","intent":"information_request","urgency":"low"}`})
		in, err := o.ReturningCustomer(ctx, f.customer.ID)
		require.NoError(t, err)
		assert.False(t, in.Fallback)
		assert.Equal(t, "Welcome back Dana", in.Summary)
	})

	t.Run("unknown customer", func(t *testing.T) {
		o := f.orchestrator(&fakeVectors{}, f.index, &fakeLLM{})
		_, err := o.ReturningCustomer(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestDetacher(t *testing.T) {
	d := NewDetacher(time.Second, nil)
	var ran atomic.Int32

	parent, cancel := context.WithCancel(context.Background())
	cancel()
	d.Go(parent, "ok", func(ctx context.Context) error {
		if ctx.Err() == nil {
			ran.Add(1)
		}
		return nil
	})
	d.Go(parent, "boom", func(ctx context.Context) error { panic("boom") })
	d.Go(parent, "err", func(ctx context.Context) error { return aierr.Wrap(aierr.KindLLMFailed, "x", errors.New("y")) })
	d.Wait()

	assert.Equal(t, int32(1), ran.Load(), "cancelled parent does not cancel detached work")
}

type sliceQueue struct {
	jobs []reprocess.Job
}

func (q *sliceQueue) Enqueue(ctx context.Context, job reprocess.Job) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *sliceQueue) Dequeue(ctx context.Context) (reprocess.Job, error) {
	if len(q.jobs) == 0 {
		return reprocess.Job{}, reprocess.ErrEmpty
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

func TestLLMFailureEnqueuesReplay(t *testing.T) {
	f := newFixture(t)
	m := f.addMessage(t, "where is my order")
	q := &sliceQueue{}
	o := New(Deps{Store: f.store, Vectors: &fakeVectors{}, Index: f.index, LLM: &fakeLLM{err: errors.New("503")},
		Tiers: f.tiers, Publisher: f.pub, Queue: q}, Config{LLMTimeout: time.Second})

	o.Process(context.Background(), f.input(m))
	o.Wait()
	require.Len(t, q.jobs, 1)
	job := q.jobs[0]
	assert.Equal(t, m.ID, job.MessageID)
	assert.Equal(t, "where is my order", job.Content)
	assert.Equal(t, model.SenderCustomer, job.SenderType)

	t.Run("still failing", func(t *testing.T) {
		assert.Error(t, o.Replay(context.Background(), job))
	})

	t.Run("recovered model drains the queue", func(t *testing.T) {
		healthy := f.orchestrator(&fakeVectors{}, f.index, &fakeLLM{reply: insightJSON})
		n, err := reprocess.Drain(context.Background(), q, 10, healthy.Replay, nil)
		healthy.Wait()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Empty(t, q.jobs)
	})
}

func TestMessageDocument(t *testing.T) {
	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := MessageDocument(model.Message{
		ID: "01H", CustomerID: "c1", SessionID: "s1", SenderType: model.SenderCustomer,
		Content: "hello", Intent: "greeting", SentAt: sent,
	}, embedding.Vector{1, 2})
	assert.Equal(t, "msg_01H", doc.ID)
	assert.Equal(t, "c1", doc.CustomerID)
	assert.Equal(t, "2026-03-01T12:00:00Z", doc.Metadata.Timestamp)
	assert.Equal(t, "greeting", doc.Metadata.Intent)

	tmp := MessageDocument(model.Message{CustomerID: "c1", Content: "x"}, nil)
	assert.Contains(t, tmp.ID, "temp_")
}

type llmFunc func(ctx context.Context) (string, error)

func (f llmFunc) Complete(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	return f(ctx)
}
