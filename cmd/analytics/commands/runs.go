package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-analytics/internal/store"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "저장된 RunRecord 조회",
}

var (
	runsListCmd = &cobra.Command{
		Use:   "list",
		Short: "RunsDir의 실행 기록 목록",
		Long: `RunsDir(PIPELINE_RUNS_DIR)에 저장된 *_metrics.json 파일을 최신순으로 출력합니다.

Example:
  go run ./cmd/analytics runs list
  go run ./cmd/analytics runs list --ticker AAPL --limit 10`,
		RunE: listRuns,
	}

	runsDir    string
	runsTicker string
	runsLimit  int
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)

	runsListCmd.Flags().StringVar(&runsDir, "dir", "", "runs directory (기본: PIPELINE_RUNS_DIR)")
	runsListCmd.Flags().StringVar(&runsTicker, "ticker", "", "filter by ticker")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum rows")
}

func listRuns(cmd *cobra.Command, args []string) error {
	dir := runsDir
	if dir == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir = cfg.Pipeline.RunsDir
	}

	runs, err := store.ListDir(dir, logger.Nop())
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	ticker := strings.ToUpper(runsTicker)
	widths := []int{36, 8, 10, 20, 10, 16}
	PrintTableHeader([]string{"RUN ID", "TICKER", "STATUS", "STARTED", "MS", "ERROR"}, widths)

	shown := 0
	for _, r := range runs {
		if ticker != "" && r.Ticker != ticker {
			continue
		}
		if shown == runsLimit {
			break
		}
		PrintTableRow([]string{
			r.RunID,
			r.Ticker,
			string(r.Status),
			r.StartTime.Local().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%.0f", r.DurationMS),
			string(r.ErrorKind),
		}, widths)
		shown++
	}

	if shown == 0 {
		PrintInfo(fmt.Sprintf("No runs in %s", dir))
	}
	return nil
}
