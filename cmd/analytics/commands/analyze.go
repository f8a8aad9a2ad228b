package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/pipeline"
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze TICKER",
	Short: "단일 종목 분석 실행",
	Long: `단일 종목에 대해 파이프라인을 1회 실행합니다.

이 명령어는:
- Layer 1: provider에서 가격/재무/뉴스 수집 (또는 --fixture)
- Layer 2: 재무비율, 밸류에이션, 리스크 병렬 계산
- Layer 3: 리포트 조립 후 출력 필터 적용
- RunRecord를 RunsDir (및 DB)에 저장

Example:
  go run ./cmd/analytics analyze AAPL
  go run ./cmd/analytics analyze AAPL --period 2y --forecast-years 7
  go run ./cmd/analytics analyze AAPL --fixture internal/provider/testdata --json`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var (
	analyzePeriod         string
	analyzeForecastYears  int
	analyzeDiscountRate   float64
	analyzeTerminalGrowth float64
	analyzeRiskFreeRate   float64
	analyzeFixture        string
	analyzeJSON           bool
)

func init() {
	rootCmd.AddCommand(analyzeCmd)

	// Flags
	analyzeCmd.Flags().StringVar(&analyzePeriod, "period", contracts.DefaultPeriod, "lookback period (1mo|3mo|6mo|1y|2y|5y)")
	analyzeCmd.Flags().IntVar(&analyzeForecastYears, "forecast-years", contracts.DefaultForecastYears, "DCF forecast horizon in years")
	analyzeCmd.Flags().Float64Var(&analyzeDiscountRate, "discount-rate", contracts.DefaultDiscountRate, "DCF discount rate")
	analyzeCmd.Flags().Float64Var(&analyzeTerminalGrowth, "terminal-growth", contracts.DefaultTerminalGrowth, "DCF terminal growth rate")
	analyzeCmd.Flags().Float64Var(&analyzeRiskFreeRate, "risk-free-rate", contracts.DefaultRiskFreeRate, "risk-free rate for Sharpe")
	analyzeCmd.Flags().StringVar(&analyzeFixture, "fixture", "", "canonical record JSON file or directory (offline mode)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the filtered output as JSON")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, appOptions{fixture: analyzeFixture})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, err := a.executor.Run(ctx, contracts.Request{
		Ticker:   args[0],
		CallerID: "cli",
		Config: contracts.RunConfig{
			Period:         analyzePeriod,
			ForecastYears:  analyzeForecastYears,
			DiscountRate:   analyzeDiscountRate,
			TerminalGrowth: analyzeTerminalGrowth,
			RiskFreeRate:   analyzeRiskFreeRate,
		},
	})
	if err != nil {
		PrintWarning(fmt.Sprintf("Run record not persisted: %v", err))
	}

	if analyzeJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(rec.Output); err != nil {
			return err
		}
	} else {
		printRun(rec)
	}

	if rec.Status != pipeline.StateCompleted {
		return fmt.Errorf("run %s: %s", rec.Status, rec.Error)
	}
	return nil
}

// printRun prints a human-readable run summary
func printRun(rec *pipeline.RunRecord) {
	PrintDoubleSeparator()
	fmt.Printf("  Analysis: %s\n", rec.Ticker)
	PrintSeparator()
	PrintKeyValue("Run ID", rec.RunID, 10)
	PrintKeyValue("Status", string(rec.Status), 10)
	PrintKeyValue("Duration", rec.Duration().String(), 10)
	PrintSeparator()

	widths := []int{20, 22, 10, 18}
	PrintTableHeader([]string{"STAGE", "GROUP", "OUTCOME", "ELAPSED / ERROR"}, widths)
	for _, r := range rec.Results {
		detail := r.Elapsed.String()
		if !r.OK() {
			detail = string(r.ErrorKind)
		}
		PrintTableRow([]string{string(r.Stage), string(r.Group), string(r.Outcome), detail}, widths)
	}
	for _, s := range rec.Skipped {
		PrintTableRow([]string{string(s), "", "skipped", ""}, widths)
	}
	fmt.Println()

	switch rec.Status {
	case pipeline.StateCompleted:
		printReport(rec.Output)
		PrintSuccess("Analysis completed")
	case pipeline.StateDenied:
		PrintError(fmt.Sprintf("Denied: %s", rec.Error))
	default:
		PrintError(fmt.Sprintf("Failed: %s", rec.Error))
	}
}

func printReport(out contracts.Payload) {
	if summary, ok := out.String("executive_summary"); ok {
		fmt.Println(summary)
		fmt.Println()
	}

	if rec, ok := out.Map("investment_recommendation"); ok {
		outlook, _ := rec.String("outlook")
		PrintKeyValue("Outlook", outlook, 10)
		for _, key := range []string{"positives", "concerns"} {
			items, _ := rec[key].([]any)
			if len(items) == 0 {
				continue
			}
			fmt.Printf("   %s:\n", key)
			PrintList(toStrings(items))
		}
	}

	if calc, ok := out.Map("calculated"); ok {
		names := make([]string, 0, len(calc))
		for k := range calc {
			names = append(names, k)
		}
		sort.Strings(names)

		PrintSeparator()
		for _, name := range names {
			c, _ := calc.Map(name)
			total, _ := c.Float("calculated")
			ok, _ := c.Float("successful")
			PrintKeyValue(name, fmt.Sprintf("%.0f/%.0f metrics", ok, total), 18)
		}
	}
	fmt.Println()
}

func toStrings(items []any) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, fmt.Sprint(it))
	}
	return out
}
