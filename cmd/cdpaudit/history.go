package main

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"cdpaudit/internal/report"
	"cdpaudit/pkg/model"
)

var errNoHistory = errors.New("run history is disabled: set --db or sqlite.dsn")

func newHistoryCmd(f *rootFlags, stdout io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List saved runs, or print the report of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(cmd, f)
			if err != nil {
				return err
			}
			defer svc.Close()
			if !svc.HasHistory() {
				return errNoHistory
			}

			ctx := cmd.Context()
			if len(args) == 1 {
				r, err := svc.Issues(ctx, model.RunID(args[0]))
				if err != nil {
					return err
				}
				return report.Write(stdout, r, f.pretty)
			}
			runs, err := svc.History(ctx, limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				if err := report.WriteSummary(stdout, r); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().BoolVar(&f.pretty, "pretty", false, "indent the JSON report")
	return cmd
}
