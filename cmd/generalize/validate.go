package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"generalize/internal/config"
)

func newValidateCmd(a *app) *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check job files without opening any source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := loadJobs(cmd.ErrOrStderr(), cfgPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %s (%d jobs)\n", cfgPath, len(jobs))
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Job file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// loadJobs reads and validates a job file, printing every issue to w.
func loadJobs(w io.Writer, path string) ([]config.Job, error) {
	jobs, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	issues := config.ValidateJobs(jobs)
	for _, iss := range issues {
		fmt.Fprintln(w, iss)
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(w, "configuration is invalid: %s\n", path)
		return nil, errInvalidConfig
	}
	return jobs, nil
}
