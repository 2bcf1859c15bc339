// surveyflow checks and explores survey branching logic from a YAML file.
//
// Usage:
//
//	surveyflow validate -f survey.yaml
//	surveyflow flowmap -f survey.yaml [--format json|dot]
//	surveyflow evaluate -f survey.yaml --question 1 --response Yes [--answers 2=No,3=5]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootFlags struct {
	file      string
	cacheSize int
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "surveyflow",
		Short:         "Validate, map and evaluate survey branching logic",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		Version: version,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.file, "file", "f", "", "Survey definition file (YAML)")
	pf.IntVar(&flags.cacheSize, "pattern-cache", 256, "Compiled RegexMatch pattern cache size")
	_ = root.MarkPersistentFlagRequired("file")

	root.AddCommand(newValidateCmd(flags))
	root.AddCommand(newFlowMapCmd(flags))
	root.AddCommand(newEvaluateCmd(flags))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
