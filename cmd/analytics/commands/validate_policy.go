package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-analytics/internal/guardrail"
)

// validatePolicyCmd represents the validate-policy command
var validatePolicyCmd = &cobra.Command{
	Use:   "validate-policy FILE",
	Short: "가드레일 정책 파일 검증",
	Long: `YAML 가드레일 정책 파일을 기본 정책 위에 적용하고 검증합니다.
알 수 없는 필드나 잘못된 값이 있으면 실패합니다.

Example:
  go run ./cmd/analytics validate-policy policy.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: validatePolicy,
}

func init() {
	rootCmd.AddCommand(validatePolicyCmd)
}

func validatePolicy(cmd *cobra.Command, args []string) error {
	policy, _, err := guardrail.LoadPolicyFile(args[0], guardrail.DefaultPolicy())
	if err != nil {
		PrintError(err.Error())
		return err
	}

	hash, err := guardrail.Hash(policy)
	if err != nil {
		return err
	}

	PrintSuccess(fmt.Sprintf("Policy %s is valid", args[0]))
	PrintKeyValue("Hash", hash, 18)
	PrintKeyValue("Rate limit", fmt.Sprintf("%d / %s", policy.RateLimit, policy.RateWindow), 18)
	PrintKeyValue("Run timeout", policy.RunTimeout.String(), 18)
	PrintKeyValue("Stage timeout", policy.StageTimeout.String(), 18)
	PrintKeyValue("Max forecast years", fmt.Sprint(policy.MaxForecastYears), 18)
	PrintKeyValue("Max period days", fmt.Sprint(policy.MaxPeriodDays), 18)
	if len(policy.BlockedTickers) > 0 {
		fmt.Println("   Blocked tickers:")
		PrintList(policy.BlockedTickers)
	}
	return nil
}
