package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfluke/fluxgrid/detector"
)

// NewDetectCommand creates the detect command.
func NewDetectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Print the GPU adapter report as JSON",
		Long: `Query the WebGPU adapter and print its limits together with the
workgroup size and sample budget the gpu backend would use. Set
FLUXGRID_ADAPTER to prefer an adapter and FLUXGRID_BUDGET_MB to change
the budget.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			js, err := detector.DetectJSON()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), js)
			return nil
		},
	}
}
