package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/scheduler"
	"github.com/wonny/aegis-analytics/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "스케줄러 관리",
	Long: `워치리스트 정기 분석 스케줄러를 시작하거나 작업을 실행합니다.

Subcommands:
  start   - 스케줄러 시작
  run     - 워치리스트 분석 즉시 실행

환경 변수:
  SCHEDULER_WATCHLIST  - 분석 대상 (예: AAPL,MSFT,GOOGL)
  SCHEDULER_CRON       - 실행 주기 (초 포함 6필드, 예: "0 30 16 * * MON-FRI")

Example:
  go run ./cmd/analytics scheduler start
  go run ./cmd/analytics scheduler run`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "스케줄러 시작",
		Long: `스케줄러를 시작하고 watchlist_analysis 작업을 스케줄합니다.

스케줄러는 Ctrl+C로 종료할 수 있습니다.`,
		RunE: runScheduler,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run",
		Short: "워치리스트 분석 즉시 실행",
		RunE:  runWatchlistNow,
	}

	schedulerFixture string
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)

	schedulerCmd.PersistentFlags().StringVar(&schedulerFixture, "fixture", "", "canonical record fixture directory (offline mode)")
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Aegis Analytics Scheduler ===")

	sched, a, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer a.Close()

	sched.Start()

	fmt.Println("\n✅ Scheduler started successfully")
	fmt.Println("\nRegistered jobs:")
	for _, jobName := range sched.GetAllJobs() {
		next, _ := sched.NextRun(jobName)
		fmt.Printf("  - %s (next: %s)\n", jobName, next.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("\nWatchlist: %s\n", strings.Join(a.cfg.Scheduler.Watchlist, ", "))
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()
	printJobStats(sched)

	return nil
}

func runWatchlistNow(cmd *cobra.Command, args []string) error {
	sched, a, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer a.Close()

	result, err := sched.RunJobNow(watchlistJobName)
	if err != nil {
		return fmt.Errorf("run job: %w", err)
	}

	printJobStats(sched)
	if !result.Success {
		return fmt.Errorf("job %s failed: %s", result.JobName, result.Error)
	}
	return nil
}

const watchlistJobName = "watchlist_analysis"

func initScheduler() (*scheduler.Scheduler, *app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	a, err := newApp(cfg, appOptions{fixture: schedulerFixture})
	if err != nil {
		return nil, nil, err
	}

	job := jobs.NewWatchlistJob(a.executor, cfg.Scheduler.Watchlist, contracts.NewRunConfig(contracts.DefaultPeriod, contracts.DefaultForecastYears), cfg.Scheduler.Cron, a.log)

	// 재시도는 1회만: 티커 단위 실패는 job 내부에서 집계
	sched := scheduler.New(a.log, scheduler.WithRetry(1, cfg.Pipeline.RunTimeout))
	if err := sched.AddJob(job); err != nil {
		a.Close()
		return nil, nil, err
	}
	return sched, a, nil
}

func printJobStats(sched *scheduler.Scheduler) {
	fmt.Println()
	fmt.Println("Job Statistics:")
	for jobName, stat := range sched.GetJobStats() {
		fmt.Printf("📊 %s\n", jobName)
		PrintKeyValue("Schedule", stat.Schedule, 12)
		PrintKeyValue("Total Runs", fmt.Sprint(stat.TotalRuns), 12)
		PrintKeyValue("Success", fmt.Sprintf("%d (%.1f%%)", stat.SuccessCount, stat.SuccessRate*100), 12)
		PrintKeyValue("Failures", fmt.Sprint(stat.FailureCount), 12)
		if stat.LastRun != nil {
			PrintKeyValue("Last Run", stat.LastRun.Format("2006-01-02 15:04:05"), 12)
		}
	}
}
