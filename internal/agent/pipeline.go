// Package agent wires the perception-action components into a pipeline: one
// Turn captures the page, diffs it against the previous capture, asks the
// model what to do and executes the answer. Iteration policy lives with the
// caller; the pipeline itself is loop-free.
package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/differ"
	"github.com/xkilldash9x/pagepilot/internal/executor"
	"github.com/xkilldash9x/pagepilot/internal/extractor"
	"github.com/xkilldash9x/pagepilot/internal/orchestrator"
	"github.com/xkilldash9x/pagepilot/internal/page"
	"github.com/xkilldash9x/pagepilot/internal/parser"
	"github.com/xkilldash9x/pagepilot/internal/prompt"
)

// Pipeline binds the components to one document and one provider.
type Pipeline struct {
	doc       page.Document
	extractor *extractor.Extractor
	differ    *differ.Differ
	builder   *prompt.Builder
	orch      *orchestrator.Orchestrator
	parser    *parser.Parser
	executor  *executor.Executor
	logger    *zap.Logger
}

func New(doc page.Document, cfg *config.Config, provider schemas.Provider, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		doc:       doc,
		extractor: extractor.New(cfg.Extractor, logger),
		differ:    differ.New(cfg.Differ, logger),
		builder:   prompt.New(logger),
		orch:      orchestrator.New(cfg.Orchestrator, provider, logger),
		parser:    parser.New(logger),
		executor:  executor.New(doc, cfg.Executor, logger),
		logger:    logger.Named("pipeline"),
	}
}

// TurnResult is everything one pipeline pass produced.
type TurnResult struct {
	TurnID   string
	Snapshot *schemas.Snapshot
	Diff     *schemas.Diff
	Reply    schemas.ModelReply
	Parsed   *schemas.ParsedResponse
	Results  []schemas.ActionResult
}

// TaskComplete reports whether the model declared the task done this turn.
func (r *TurnResult) TaskComplete() bool {
	return r.Parsed != nil && r.Parsed.TaskComplete
}

// AllFailed reports whether the turn executed actions and none succeeded.
func (r *TurnResult) AllFailed() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if res.Success {
			return false
		}
	}
	return true
}

// Turn runs one full perception-action pass. autoCtx is read-only here: the
// caller owns it and folds the returned results back in between turns.
func (p *Pipeline) Turn(ctx context.Context, task string, autoCtx *schemas.AutomationContext) (*TurnResult, error) {
	turnID := uuid.NewString()
	log := p.logger.With(zap.String("turnID", turnID))

	snap, err := p.extractor.Capture(ctx, p.doc)
	if err != nil {
		return nil, fmt.Errorf("capture failed: %w", err)
	}
	diff := p.differ.Compute(snap)
	log.Debug("Page captured",
		zap.Int("elements", len(snap.Elements)),
		zap.Int("added", diff.Metadata.AddedCount),
		zap.Int("removed", diff.Metadata.RemovedCount),
		zap.Int("modified", diff.Metadata.ModifiedCount),
		zap.Float64("changeRatio", diff.Metadata.ChangeRatio))

	pair, err := p.builder.Build(task, snap, diff, autoCtx)
	if err != nil {
		return nil, fmt.Errorf("prompt assembly failed: %w", err)
	}

	reply, err := p.orch.Ask(ctx, orchestrator.Request{
		Task:   task,
		URL:    snap.URL,
		Title:  snap.Title,
		Prompt: pair,
		Stuck:  autoCtx != nil && autoCtx.IsStuck,
	})
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	parsed, err := p.parser.Parse(reply.Content)
	if err != nil {
		return nil, fmt.Errorf("unusable model response: %w", err)
	}
	log.Debug("Response parsed",
		zap.String("path", string(parsed.Path)),
		zap.Int("actions", len(parsed.Actions)),
		zap.Bool("taskComplete", parsed.TaskComplete))

	results := make([]schemas.ActionResult, 0, len(parsed.Actions))
	for _, action := range parsed.Actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, p.executor.Execute(ctx, action))
	}

	return &TurnResult{
		TurnID:   turnID,
		Snapshot: snap,
		Diff:     diff,
		Reply:    reply,
		Parsed:   parsed,
		Results:  results,
	}, nil
}

// Reset clears the differ baseline so the next capture reads as a fresh page.
func (p *Pipeline) Reset() {
	p.differ.Reset()
}

// Usage returns the cumulative provider token accounting.
func (p *Pipeline) Usage() orchestrator.UsageTotals {
	return p.orch.UsageTotals()
}

// Drain blocks until any in-flight orchestrator work finishes.
func (p *Pipeline) Drain() {
	p.orch.Wait()
}
