package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"surveyflow/internal/branching"
)

func newFlowMapCmd(flags *rootFlags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "flowmap",
		Short: "Print the survey flow graph as JSON or Graphviz DOT",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "json" && format != "dot" {
				return fmt.Errorf("--format must be json or dot, got %q", format)
			}

			sf, err := loadSurvey(cmd.Context(), flags.file)
			if err != nil {
				return err
			}
			fm := branching.GenerateFlowMap(sf.Survey, sf.Rules)

			out := cmd.OutOrStdout()
			if format == "dot" {
				dot, err := branching.RenderDOT(fm)
				if err != nil {
					return fmt.Errorf("render dot: %w", err)
				}
				fmt.Fprint(out, dot)
				return nil
			}

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(fm)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or dot")
	return cmd
}
