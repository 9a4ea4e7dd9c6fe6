package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPingCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Open the configured database and check connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			drv, err := a.open()
			if err != nil {
				return err
			}
			defer drv.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			start := time.Now()
			if err := drv.Ping(ctx); err != nil {
				return err
			}
			elapsed := time.Since(start)
			a.logger.Debug("ping", "dialect", drv.Dialect().Name, "elapsed", elapsed)
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s (%s)\n", drv.Dialect().Name, elapsed.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "ping timeout")
	return cmd
}
