package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func sweepCMD() *cobra.Command {
	var cfgPath string
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Delete artifacts older than the retention window once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(context.Background(), cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			removed, err := a.dir.Sweep(time.Now(), a.cfg.Storage.Assets.Retention)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d files from %s\n", removed, a.dir.Root)
			return err
		},
	}
	sweep.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	return sweep
}
