package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"surveyflow/internal/branching"
)

var errInvalidFlow = errors.New("flow integrity check failed")

func newValidateCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the rule set for self references, cycles and malformed rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sf, err := loadSurvey(cmd.Context(), flags.file)
			if err != nil {
				return err
			}

			report := branching.NewValidator(branching.NewEvaluator(flags.cacheSize)).Analyze(sf.Rules)
			report.SurveyID = sf.ID

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "Survey %d: %d rules\n", sf.ID, len(sf.Rules))
				for _, q := range report.SelfReferences {
					fmt.Fprintf(out, "  self reference on question %d\n", q)
				}
				for _, c := range report.Cycles {
					fmt.Fprintf(out, "  cycle %v\n", c)
				}
				for _, e := range report.Errors {
					fmt.Fprintf(out, "  %s\n", e)
				}
				if report.Valid {
					fmt.Fprintln(out, "Flow is valid")
				}
			}

			if !report.Valid {
				return errInvalidFlow
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the integrity report as JSON")
	return cmd
}
