package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/agent"
	"github.com/xkilldash9x/pagepilot/internal/observability"
	"github.com/xkilldash9x/pagepilot/internal/page"
	"github.com/xkilldash9x/pagepilot/internal/provider"
)

// stuckAfterFailedTurns is how many consecutive all-failed turns flip the
// stuck flag, which bypasses the response cache on the next model call.
const stuckAfterFailedTurns = 2

// newRunCmd creates the `run` command: iterate the perception-action pipeline
// against a page until the model declares the task complete.
func newRunCmd() *cobra.Command {
	var (
		targetURL     string
		htmlFile      string
		maxIterations int
		headless      bool
	)

	runCmd := &cobra.Command{
		Use:   "run \"task description\"",
		Short: "Runs a task against a page until the model declares it complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			task := args[0]

			if targetURL == "" && htmlFile == "" {
				return fmt.Errorf("either --url or --html is required")
			}

			prov, err := provider.New(cfg.Provider, logger)
			if err != nil {
				return err
			}

			// Fail fast on bad credentials before touching the page.
			status := prov.TestConnection(ctx)
			if !status.Success {
				return fmt.Errorf("provider connectivity check failed: %s", status.Message)
			}
			logger.Info("Provider reachable",
				zap.String("provider", prov.Name()),
				zap.String("model", status.Model))

			doc, cleanup, err := openDocument(ctx, targetURL, htmlFile, headless, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			pipe := agent.New(doc, cfg, prov, logger)
			defer pipe.Drain()

			result, err := driveTask(ctx, pipe, task, maxIterations, logger)

			totals := pipe.Usage()
			logger.Info("Provider usage",
				zap.Int("calls", totals.Calls),
				zap.Int("inputTokens", totals.InputTokens),
				zap.Int("outputTokens", totals.OutputTokens),
				zap.Int("totalTokens", totals.TotalTokens),
				zap.Bool("estimated", totals.Estimated))
			if err != nil {
				return err
			}

			fmt.Printf("\nTask complete: %s\n", result)
			return nil
		},
	}

	runCmd.Flags().StringVarP(&targetURL, "url", "u", "", "Page to open before the first turn")
	runCmd.Flags().StringVar(&htmlFile, "html", "", "Local HTML file to drive offline instead of a browser")
	runCmd.Flags().IntVarP(&maxIterations, "max-iterations", "n", 15, "Turn budget before giving up")
	runCmd.Flags().BoolVar(&headless, "headless", true, "Run the browser headless")

	return runCmd
}

// openDocument builds the Document for the run: a parsed local file for
// offline mode, a live browser tab otherwise.
func openDocument(ctx context.Context, targetURL, htmlFile string, headless bool, logger *zap.Logger) (page.Document, func(), error) {
	if htmlFile != "" {
		raw, err := os.ReadFile(htmlFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", htmlFile, err)
		}
		pageURL := targetURL
		if pageURL == "" {
			pageURL = "file://" + htmlFile
		}
		doc, err := page.NewStaticDocument(string(raw), pageURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Driving local document", zap.String("file", htmlFile))
		return doc, func() {}, nil
	}

	doc, err := page.NewChromeDocument(ctx, page.ChromeOptions{Headless: headless}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}
	if err := doc.Navigate(ctx, targetURL); err != nil {
		doc.Close()
		return nil, nil, err
	}
	return doc, doc.Close, nil
}

// driveTask iterates pipeline turns, folding each outcome into the
// AutomationContext the next prompt sees. It returns the model's final result
// text, or an error when the turn budget runs out.
func driveTask(ctx context.Context, pipe *agent.Pipeline, task string, maxIterations int, logger *zap.Logger) (string, error) {
	autoCtx := &schemas.AutomationContext{Task: task}
	failedTurns := 0

	for i := 1; i <= maxIterations; i++ {
		autoCtx.IterationCount = i
		turn, err := pipe.Turn(ctx, task, autoCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return "", fmt.Errorf("run aborted")
			}
			return "", err
		}

		foldTurn(autoCtx, turn)
		if turn.AllFailed() {
			failedTurns++
		} else {
			failedTurns = 0
		}
		autoCtx.StuckCounter = failedTurns
		autoCtx.IsStuck = failedTurns >= stuckAfterFailedTurns

		logger.Info("Turn finished",
			zap.Int("iteration", i),
			zap.String("turnID", turn.TurnID),
			zap.Int("actions", len(turn.Results)),
			zap.Bool("allFailed", turn.AllFailed()),
			zap.Bool("taskComplete", turn.TaskComplete()))

		if turn.TaskComplete() {
			if turn.Parsed.Result != nil {
				return *turn.Parsed.Result, nil
			}
			return "done", nil
		}
	}
	return "", fmt.Errorf("task not complete after %d iterations", maxIterations)
}

// foldTurn merges one turn's outcome into the shared automation context.
func foldTurn(autoCtx *schemas.AutomationContext, turn *agent.TurnResult) {
	for i, res := range turn.Results {
		record := schemas.ActionRecord{
			Tool:    res.Tool,
			Success: res.Success,
			Error:   res.Error,
		}
		if i < len(turn.Parsed.Actions) {
			record.Description = turn.Parsed.Actions[i].Description
		}
		autoCtx.ActionHistory = append(autoCtx.ActionHistory, record)
		if !res.Success {
			if autoCtx.FailedAttempts == nil {
				autoCtx.FailedAttempts = make(map[string]int)
			}
			autoCtx.FailedAttempts[res.Tool]++
		}
	}

	url := turn.Snapshot.URL
	autoCtx.URLChanged = autoCtx.CurrentURL != "" && autoCtx.CurrentURL != url
	if len(autoCtx.URLHistory) == 0 || autoCtx.URLHistory[len(autoCtx.URLHistory)-1] != url {
		autoCtx.URLHistory = append(autoCtx.URLHistory, url)
	}
	autoCtx.CurrentURL = url

	meta := turn.Diff.Metadata
	autoCtx.DOMChanged = !turn.Diff.FullReplace() &&
		meta.AddedCount+meta.RemovedCount+meta.ModifiedCount > 0
}
