package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"surveyflow/internal/branching"
)

type evaluateFlags struct {
	question int64
	response string
	answers  string
}

func newEvaluateCmd(flags *rootFlags) *cobra.Command {
	var ef evaluateFlags
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one question's rules against a response",
		RunE: func(cmd *cobra.Command, _ []string) error {
			saved, err := parseAnswers(ef.answers)
			if err != nil {
				return err
			}

			sf, err := loadSurvey(cmd.Context(), flags.file)
			if err != nil {
				return err
			}

			resolver := branching.NewResolver(branching.NewEvaluator(flags.cacheSize))
			result := resolver.Evaluate(ef.question, ef.response, sf.Rules, saved)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if result.IsError {
				return fmt.Errorf("evaluation failed: %s", result.ErrorMessage)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.Int64Var(&ef.question, "question", 0, "Question id (required)")
	f.StringVar(&ef.response, "response", "", "Response value")
	f.StringVar(&ef.answers, "answers", "", "Saved answers for CrossQuestion rules, e.g. 2=No,3=5")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

// parseAnswers reads "id=value" pairs separated by commas.
func parseAnswers(raw string) (map[int64]string, error) {
	saved := map[int64]string{}
	if strings.TrimSpace(raw) == "" {
		return saved, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("--answers entry %q is not id=value", pair)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("--answers entry %q: bad question id", pair)
		}
		saved[id] = strings.TrimSpace(v)
	}
	return saved, nil
}
