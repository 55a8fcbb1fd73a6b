package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/rcwatch/rcwatch/internal/console"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <rule>...",
	Short: "Compile rules and print their compiled form",
	Long: `Compile each rule argument and print its compiled form, estimated cost
and warnings. Each argument is one rule. Exits non-zero when any rule is
rejected.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	red := color.New(color.FgRed).SprintFunc()

	failed := 0
	for i, text := range args {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "rule: %s\n", strings.TrimSpace(text))
		if _, err := console.DescribeRule(out, text); err != nil {
			fmt.Fprintf(out, "%s %v\n", red("rejected:"), err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rules rejected", failed, len(args))
	}
	return nil
}
