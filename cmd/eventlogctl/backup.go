package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/eventlog/eventlog"
	"go.uber.org/zap"
)

func Backup(ctx context.Context, config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use: "backup",
	}
	dump := &cobra.Command{
		Use:   "dump",
		Short: "Write stored events to a destination URL",
		Args:  cobra.ExactArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			el, l := openLog(ctx, config, true)
			defer el.Close()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			w, err := eventlog.OpenURLWriter(ctx, config.GetString("destination-url"))
			if err != nil {
				l.Fatal("failed to open destination", zap.Error(err))
			}
			if err := el.Dump(ctx, w, config.GetUint64("from-position")); err != nil {
				l.Fatal("failed to dump events", zap.Error(err))
			}
		},
	}
	dump.Flags().String("destination-url", "", "Destination URL (file:///path/to/file).")
	dump.MarkFlagRequired("destination-url")
	dump.Flags().Uint64P("from-position", "p", 0, "Dump events stored at or after the given position.")
	cmd.AddCommand(dump)

	load := &cobra.Command{
		Use:   "load",
		Short: "Append events from a dump",
		Args:  cobra.ExactArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			el, l := openLog(ctx, config, false)
			defer el.Close()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			r, err := eventlog.OpenURLReader(ctx, config.GetString("source-url"))
			if err != nil {
				l.Fatal("failed to open source", zap.Error(err))
			}
			count, err := el.Load(ctx, r)
			if err != nil {
				l.Fatal("failed to load events", zap.Error(err), zap.Int("loaded_events", count))
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d events loaded\n", count)
		},
	}
	load.Flags().String("source-url", "", "Source URL (file:///path/to/file).")
	load.MarkFlagRequired("source-url")
	cmd.AddCommand(load)
	return cmd
}
