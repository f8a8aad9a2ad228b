package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	env     string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "analytics",
	Short:         "Aegis Analytics - 종목 재무/밸류에이션/리스크 분석 파이프라인",
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `Aegis Analytics Unified CLI

3단계 파이프라인으로 데이터 수집부터 리포트 생성까지.
  Layer 1  data_fetch
  Layer 2  ratio_metrics | valuation_metrics | risk_metrics (병렬)
  Layer 3  presentation

Usage:
  go run ./cmd/analytics [command]

Examples:
  go run ./cmd/analytics analyze AAPL --period 1y --forecast-years 5
  go run ./cmd/analytics analyze AAPL --fixture internal/provider/testdata
  go run ./cmd/analytics api
  go run ./cmd/analytics scheduler start
  go run ./cmd/analytics runs list
  go run ./cmd/analytics validate-policy policy.yaml`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment override (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logs)")
}
