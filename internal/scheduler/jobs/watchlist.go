package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/pipeline"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// CallerID is the rate-limit identity of scheduled runs
const CallerID = "scheduler"

// Runner executes one pipeline run
type Runner interface {
	Run(ctx context.Context, req contracts.Request) (*pipeline.RunRecord, error)
}

// WatchlistJob runs the analytics pipeline for every watchlist ticker
// ⭐ SSOT: 워치리스트 정기 분석은 이 Job에서만
type WatchlistJob struct {
	runner   Runner
	tickers  []string
	config   contracts.RunConfig
	schedule string
	logger   *logger.Logger
}

// NewWatchlistJob creates a new watchlist job
func NewWatchlistJob(runner Runner, tickers []string, cfg contracts.RunConfig, schedule string, log *logger.Logger) *WatchlistJob {
	return &WatchlistJob{
		runner:   runner,
		tickers:  tickers,
		config:   cfg,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *WatchlistJob) Name() string {
	return "watchlist_analysis"
}

// Schedule returns the cron schedule
func (j *WatchlistJob) Schedule() string {
	return j.schedule
}

// WatchlistSummary counts run outcomes of one job execution
type WatchlistSummary struct {
	Completed int
	Denied    int
	Failed    int
	Failures  []string
}

// Run executes the pipeline sequentially per ticker. Individual failures are
// logged; the job fails only when no ticker completed, so a retry is useful.
func (j *WatchlistJob) Run(ctx context.Context) error {
	if len(j.tickers) == 0 {
		j.logger.Warn("Watchlist is empty, nothing to analyze")
		return nil
	}

	summary, err := j.RunAll(ctx)
	if err != nil {
		return err
	}

	j.logger.WithFields(map[string]interface{}{
		"tickers":   len(j.tickers),
		"completed": summary.Completed,
		"denied":    summary.Denied,
		"failed":    summary.Failed,
	}).Info("Watchlist analysis finished")

	if summary.Completed == 0 {
		return fmt.Errorf("no watchlist ticker completed: %s", strings.Join(summary.Failures, "; "))
	}
	return nil
}

// RunAll runs every ticker and returns the outcome counts. It stops early
// only when ctx is cancelled.
func (j *WatchlistJob) RunAll(ctx context.Context) (WatchlistSummary, error) {
	var summary WatchlistSummary

	for _, ticker := range j.tickers {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("watchlist interrupted: %w", err)
		}

		rec, err := j.runner.Run(ctx, contracts.Request{
			Ticker:   ticker,
			CallerID: CallerID,
			Config:   j.config,
		})
		if rec == nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, fmt.Sprintf("%s: %v", ticker, err))
			continue
		}
		if err != nil {
			j.logger.WithRun(rec.RunID, rec.Ticker).WithError(err).Warn("Run record not persisted")
		}

		switch rec.Status {
		case pipeline.StateCompleted:
			summary.Completed++
		case pipeline.StateDenied:
			summary.Denied++
			summary.Failures = append(summary.Failures, describe(rec))
		default:
			summary.Failed++
			summary.Failures = append(summary.Failures, describe(rec))
		}
	}

	return summary, nil
}

func describe(rec *pipeline.RunRecord) string {
	if rec.Error != nil {
		return fmt.Sprintf("%s: %s", rec.Ticker, rec.Error.Error())
	}
	return fmt.Sprintf("%s: %s", rec.Ticker, rec.Status)
}
