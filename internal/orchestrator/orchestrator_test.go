package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
)

func TestMain(m *testing.M) {
	// The token encoder may probe the network on first load; idle HTTP
	// connections are not leaks.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// fakeProvider drives the orchestrator without a network. BuildRequest passes
// the user prompt through; respond decides the outcome per call.
type fakeProvider struct {
	mu      sync.Mutex
	calls   []string
	delay   time.Duration
	respond func(user string) (schemas.ModelReply, error)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		respond: func(user string) (schemas.ModelReply, error) {
			return schemas.ModelReply{Content: "echo:" + user, Model: "fake-model"}, nil
		},
	}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) BuildRequest(prompt schemas.PromptPair) ([]byte, error) {
	return []byte(prompt.UserPrompt), nil
}

func (f *fakeProvider) SendRequest(ctx context.Context, body []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, string(body))
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return body, nil
}

func (f *fakeProvider) ParseResponse(raw []byte) (schemas.ModelReply, error) {
	return f.respond(string(raw))
}

func (f *fakeProvider) TestConnection(ctx context.Context) schemas.ConnectionStatus {
	return schemas.ConnectionStatus{Success: true, Model: "fake-model"}
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testOrchestrator(p schemas.Provider) *Orchestrator {
	cfg := config.NewDefaultConfig().Orchestrator
	cfg.RequestDelay = time.Millisecond
	return New(cfg, p, zap.NewNop())
}

func request(task, url, user string) Request {
	return Request{
		Task:   task,
		URL:    url,
		Title:  "Title",
		Prompt: schemas.PromptPair{SystemPrompt: "sys", UserPrompt: user},
	}
}

// -- cache unit tests --

func TestCacheTTL(t *testing.T) {
	cache := newResponseCache(10, time.Minute)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	cache.Put("k", schemas.ModelReply{Content: "v"})

	now = now.Add(time.Minute - time.Second)
	reply, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", reply.Content)

	now = now.Add(2 * time.Second)
	_, ok = cache.Get("k")
	assert.False(t, ok, "entry past TTL must be gone")
	assert.Equal(t, 0, cache.Len())
}

func TestCacheEvictsEarliestInserted(t *testing.T) {
	cache := newResponseCache(2, time.Minute)
	cache.Put("first", schemas.ModelReply{Content: "1"})
	cache.Put("second", schemas.ModelReply{Content: "2"})

	// Reading "first" must not protect it: eviction is FIFO, not LRU.
	_, ok := cache.Get("first")
	require.True(t, ok)

	cache.Put("third", schemas.ModelReply{Content: "3"})

	_, ok = cache.Get("first")
	assert.False(t, ok, "earliest-inserted key is evicted")
	_, ok = cache.Get("second")
	assert.True(t, ok)
	_, ok = cache.Get("third")
	assert.True(t, ok)
}

func TestCacheRefreshKeepsInsertionPosition(t *testing.T) {
	cache := newResponseCache(2, time.Minute)
	cache.Put("a", schemas.ModelReply{Content: "1"})
	cache.Put("b", schemas.ModelReply{Content: "2"})
	cache.Put("a", schemas.ModelReply{Content: "1b"})
	cache.Put("c", schemas.ModelReply{Content: "3"})

	_, ok := cache.Get("a")
	assert.False(t, ok, "refreshed key keeps its original position and is evicted first")
	reply, ok := cache.Get("b")
	require.True(t, ok)
	assert.Equal(t, "2", reply.Content)
}

// -- orchestrator behaviour --

func TestAskCachesSuccessfulReplies(t *testing.T) {
	p := newFakeProvider()
	o := testOrchestrator(p)
	defer o.Wait()
	ctx := context.Background()

	first, err := o.Ask(ctx, request("task", "https://a.test/", "u1"))
	require.NoError(t, err)

	second, err := o.Ask(ctx, request("task", "https://a.test/", "u1"))
	require.NoError(t, err)

	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, 1, p.callCount(), "second ask must be served from cache")
}

func TestAskStuckBypassesCacheRead(t *testing.T) {
	p := newFakeProvider()
	o := testOrchestrator(p)
	defer o.Wait()
	ctx := context.Background()

	req := request("task", "https://a.test/", "u1")
	_, err := o.Ask(ctx, req)
	require.NoError(t, err)

	req.Stuck = true
	_, err = o.Ask(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, p.callCount(), "stuck request must reach the provider")

	// The bypassed call still refreshed the cache for non-stuck readers.
	req.Stuck = false
	_, err = o.Ask(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, p.callCount())
}

func TestAskFIFOOrdering(t *testing.T) {
	p := newFakeProvider()
	p.delay = 20 * time.Millisecond
	o := testOrchestrator(p)
	defer o.Wait()
	ctx := context.Background()

	var mu sync.Mutex
	var completed []string
	var wg sync.WaitGroup
	for _, name := range []string{"r1", "r2", "r3"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := o.Ask(ctx, request("task", "https://"+name+".test/", name))
			require.NoError(t, err)
			mu.Lock()
			completed = append(completed, name)
			mu.Unlock()
		}(name)
		// Stagger submissions so queue order is deterministic.
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []string{"r1", "r2", "r3"}, completed)
	p.mu.Lock()
	assert.Equal(t, []string{"r1", "r2", "r3"}, p.calls)
	p.mu.Unlock()
}

func TestAskFailureDoesNotBlockQueue(t *testing.T) {
	p := newFakeProvider()
	p.delay = 10 * time.Millisecond
	boom := errors.New("model exploded")
	p.respond = func(user string) (schemas.ModelReply, error) {
		if user == "bad" {
			return schemas.ModelReply{}, boom
		}
		return schemas.ModelReply{Content: "ok:" + user}, nil
	}
	o := testOrchestrator(p)
	defer o.Wait()
	ctx := context.Background()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := o.Ask(ctx, request("task", "https://bad.test/", "bad"))
		errCh <- err
	}()
	time.Sleep(5 * time.Millisecond)

	reply, err := o.Ask(ctx, request("task", "https://good.test/", "good"))
	require.NoError(t, err)
	assert.Equal(t, "ok:good", reply.Content)

	wg.Wait()
	require.Error(t, <-errCh)
}

func TestAskFailedRepliesAreNotCached(t *testing.T) {
	p := newFakeProvider()
	attempts := 0
	p.respond = func(user string) (schemas.ModelReply, error) {
		attempts++
		if attempts == 1 {
			return schemas.ModelReply{}, errors.New("transient")
		}
		return schemas.ModelReply{Content: "recovered"}, nil
	}
	o := testOrchestrator(p)
	defer o.Wait()
	ctx := context.Background()

	req := request("task", "https://a.test/", "u1")
	_, err := o.Ask(ctx, req)
	require.Error(t, err)

	reply, err := o.Ask(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply.Content)
	assert.Equal(t, 2, p.callCount())
}

func TestAskContextCancelledWhileQueued(t *testing.T) {
	p := newFakeProvider()
	p.delay = 50 * time.Millisecond
	o := testOrchestrator(p)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := o.Ask(ctx, request("task", "https://slow.test/", "slow"))
		assert.NoError(t, err)
	}()
	time.Sleep(10 * time.Millisecond)

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()
	_, err := o.Ask(cancelCtx, request("task", "https://q.test/", "queued"))
	require.ErrorIs(t, err, context.Canceled)

	wg.Wait()
	o.Wait()
}

func TestUsageAccounting(t *testing.T) {
	p := newFakeProvider()
	p.respond = func(user string) (schemas.ModelReply, error) {
		return schemas.ModelReply{
			Content: "reply",
			Usage:   schemas.Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
		}, nil
	}
	o := testOrchestrator(p)
	defer o.Wait()
	ctx := context.Background()

	_, err := o.Ask(ctx, request("task", "https://a.test/", "u1"))
	require.NoError(t, err)

	totals := o.UsageTotals()
	assert.Equal(t, 1, totals.Calls)
	assert.Equal(t, 100, totals.InputTokens)
	assert.Equal(t, 20, totals.OutputTokens)
	assert.Equal(t, 120, totals.TotalTokens)
	assert.False(t, totals.Estimated)
}

func TestUsageEstimatedWhenProviderOmitsCounts(t *testing.T) {
	p := newFakeProvider() // echo reply carries no usage
	o := testOrchestrator(p)
	defer o.Wait()
	ctx := context.Background()

	reply, err := o.Ask(ctx, request("task", "https://a.test/", "some user prompt text"))
	require.NoError(t, err)

	assert.True(t, reply.Usage.Estimated)
	assert.Positive(t, reply.Usage.InputTokens)
	assert.Positive(t, reply.Usage.OutputTokens)
	assert.Equal(t, reply.Usage.InputTokens+reply.Usage.OutputTokens, reply.Usage.TotalTokens)

	totals := o.UsageTotals()
	assert.True(t, totals.Estimated)
	assert.Equal(t, 1, totals.Calls)
}

func TestUsageCountsFailedCalls(t *testing.T) {
	p := newFakeProvider()
	p.respond = func(user string) (schemas.ModelReply, error) {
		return schemas.ModelReply{}, errors.New("always fails")
	}
	o := testOrchestrator(p)
	defer o.Wait()
	ctx := context.Background()

	_, err := o.Ask(ctx, request("task", "https://a.test/", "u1"))
	require.Error(t, err)

	totals := o.UsageTotals()
	assert.Equal(t, 1, totals.Calls)
	assert.Positive(t, totals.InputTokens, "failed calls still consumed the prompt")
}
