package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/openfluke/fluxgrid/internal/sim"
)

// ErrGradcheckFailed is returned when a direction exceeds the tolerance.
var ErrGradcheckFailed = errors.New("gradient check failed")

// NewGradcheckCommand creates the gradcheck command.
func NewGradcheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gradcheck",
		Short: "Compare reverse-mode gradients with finite differences",
		Long: `Differentiate a short buoyant simulation and compare the gradient with
central differences along the buoyancy factor and one random direction
each for density and velocity.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := getEnv(cmd)
			res, err := sim.RunGradcheck(e.cfg, e.backend, e.logger)
			if err != nil {
				return err
			}
			renderGradcheck(cmd.OutOrStdout(), res)
			if !res.Passed() {
				return ErrGradcheckFailed
			}
			return nil
		},
	}
	cmd.Flags().Float64("epsilon", 1e-4, "finite difference step")
	return cmd
}

func renderGradcheck(w io.Writer, res *sim.GradcheckResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.SetTitle(fmt.Sprintf("Loss %.6f", res.Loss))
	t.AppendHeader(table.Row{"Direction", "Analytic", "Numeric", "Rel. error", "Status"})
	for _, c := range res.Checks {
		status := "ok"
		if !c.Passed {
			status = "FAIL"
		}
		t.AppendRow(table.Row{c.Name, fmt.Sprintf("%.6e", c.Analytic), fmt.Sprintf("%.6e", c.Numeric), fmt.Sprintf("%.2e", c.RelError), status})
	}
	t.Render()
}
