// Package orchestrator serialises provider traffic: one in-flight call at a
// time, FIFO-ordered waiters, a TTL'd response cache keyed by (task, url,
// title), and cumulative usage accounting.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
)

// Request is one submission to the orchestrator. Stuck forces a cache-read
// bypass so a cached wrong strategy is never replayed at the model.
type Request struct {
	Task   string
	URL    string
	Title  string
	Prompt schemas.PromptPair
	Stuck  bool
}

func (r Request) cacheKey() string {
	return fmt.Sprintf("%s-%s-%s", r.Task, r.URL, r.Title)
}

type outcome struct {
	reply schemas.ModelReply
	err   error
}

type pending struct {
	ctx      context.Context
	req      Request
	resultCh chan outcome
}

// Orchestrator owns the queue, the drain flag, and the cache exclusively.
// Ask is safe for concurrent use; completion order always matches submission
// order.
type Orchestrator struct {
	provider schemas.Provider
	cache    *responseCache
	meter    *usageMeter
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu         sync.Mutex
	queue      []*pending
	processing bool
	wg         sync.WaitGroup
}

func New(cfg config.OrchestratorConfig, provider schemas.Provider, logger *zap.Logger) *Orchestrator {
	log := logger.Named("orchestrator")
	return &Orchestrator{
		provider: provider,
		cache:    newResponseCache(cfg.CacheCap, cfg.CacheTTL),
		meter:    newUsageMeter(log),
		limiter:  rate.NewLimiter(rate.Every(cfg.RequestDelay), 1),
		logger:   log,
	}
}

// Ask resolves a request from the cache or the provider. The caller's context
// cancels the wait, not the queued work: an abandoned entry still drains so
// later waiters keep their position.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (schemas.ModelReply, error) {
	key := req.cacheKey()
	if req.Stuck {
		o.logger.Debug("Cache read bypassed for stuck agent", zap.String("key", key))
	} else if reply, ok := o.cache.Get(key); ok {
		o.logger.Debug("Cache hit", zap.String("key", key))
		return reply, nil
	}

	entry := &pending{ctx: ctx, req: req, resultCh: make(chan outcome, 1)}

	o.mu.Lock()
	o.queue = append(o.queue, entry)
	if !o.processing {
		o.processing = true
		o.wg.Add(1)
		go o.drain()
	}
	o.mu.Unlock()

	select {
	case out := <-entry.resultCh:
		return out.reply, out.err
	case <-ctx.Done():
		return schemas.ModelReply{}, ctx.Err()
	}
}

// UsageTotals reports the cumulative token accounting so far.
func (o *Orchestrator) UsageTotals() UsageTotals {
	return o.meter.snapshot()
}

// Wait blocks until the drain loop has gone idle. Test and shutdown hook.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// drain processes the queue head-first until empty. One entry's failure
// rejects only its own waiter; the loop continues.
func (o *Orchestrator) drain() {
	defer o.wg.Done()
	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			o.processing = false
			o.mu.Unlock()
			return
		}
		entry := o.queue[0]
		o.queue = o.queue[1:]
		o.mu.Unlock()

		// Paces consecutive provider calls; the first pass is free.
		if err := o.limiter.Wait(entry.ctx); err != nil {
			entry.resultCh <- outcome{err: err}
			continue
		}
		reply, err := o.execute(entry.ctx, entry.req)
		entry.resultCh <- outcome{reply: reply, err: err}
	}
}

func (o *Orchestrator) execute(ctx context.Context, req Request) (schemas.ModelReply, error) {
	if err := ctx.Err(); err != nil {
		return schemas.ModelReply{}, err
	}

	body, err := o.provider.BuildRequest(req.Prompt)
	if err != nil {
		o.meter.account(req.Prompt, "", schemas.Usage{})
		return schemas.ModelReply{}, fmt.Errorf("failed to build provider request: %w", err)
	}

	raw, err := o.provider.SendRequest(ctx, body)
	if err != nil {
		// Failed calls still consumed input tokens; record the estimate.
		o.meter.account(req.Prompt, "", schemas.Usage{})
		return schemas.ModelReply{}, err
	}

	reply, err := o.provider.ParseResponse(raw)
	if err != nil {
		o.meter.account(req.Prompt, "", schemas.Usage{})
		return schemas.ModelReply{}, fmt.Errorf("failed to parse provider response: %w", err)
	}

	reply.Usage = o.meter.account(req.Prompt, reply.Content, reply.Usage)
	o.cache.Put(req.cacheKey(), reply)

	o.logger.Debug("Provider call complete",
		zap.String("provider", o.provider.Name()),
		zap.String("model", reply.Model),
		zap.Int("totalTokens", reply.Usage.TotalTokens),
		zap.Bool("estimated", reply.Usage.Estimated))
	return reply, nil
}
