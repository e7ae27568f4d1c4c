package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/tuvi/internal/acquire"
	"github.com/mohammad-safakhou/tuvi/internal/chart"
)

// acquireCMD runs one acquisition outside the chat flow, for checking the
// chart site from an operator shell.
func acquireCMD() *cobra.Command {
	var cfgPath, date, slot, sex string
	var requester int64
	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Acquire one chart and print where it was written",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := chart.ParseDate(date)
			if err != nil {
				return err
			}
			s, err := chart.ParseSlot(slot)
			if err != nil {
				return err
			}
			x, err := chart.ParseSex(sex)
			if err != nil {
				return err
			}
			fp, err := chart.NewFingerprint(requester, d, s, x)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			res := a.acquirer().Acquire(cmd.Context(), fp, func(p acquire.Progress) {
				fmt.Fprintf(out, "[%3d%%] %s\n", p.Percent, p.Text)
			})
			fmt.Fprintf(out, "outcome=%s stage=%s cached=%v id=%d path=%s\n",
				res.Outcome, res.Stage, res.Cached, res.Artifact.ID, res.Artifact.Path)
			if res.Reason != nil {
				return fmt.Errorf("acquisition: %w", res.Reason)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&requester, "requester", 1, "requester id the chart is stored under")
	cmd.Flags().StringVar(&date, "date", "", "birth date DD/MM/YYYY")
	cmd.Flags().StringVar(&slot, "slot", "unknown", "birth slot token (ty, suu, ... or unknown)")
	cmd.Flags().StringVar(&sex, "sex", "male", "male or female")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}
