package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/eventlog/commitlog"
	"go.uber.org/zap"
)

func Checkpoints(ctx context.Context, config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use: "checkpoints",
	}
	cmd.AddCommand(&cobra.Command{
		Use: "ls",
		Run: func(cmd *cobra.Command, _ []string) {
			l := getLogger(config)
			store := openCheckpoints(config, l)
			defer store.Close()
			all, err := store.List()
			if err != nil {
				l.Fatal("failed to list checkpoints", zap.Error(err))
			}
			names := make([]string, 0, len(all))
			for name := range all {
				names = append(names, name)
			}
			sort.Strings(names)
			table := getTable([]string{"Name", "Position", "Date"}, cmd.OutOrStdout())
			for _, name := range names {
				table.Append([]string{name, fmt.Sprintf("%d", all[name]), commitlog.DateOfPosition(all[name]).String()})
			}
			table.Render()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:  "set NAME POSITION",
		Args: cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			l := getLogger(config)
			pos, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				l.Fatal("invalid position", zap.Error(err))
			}
			store := openCheckpoints(config, l)
			defer store.Close()
			if err := store.Set(args[0], pos); err != nil {
				l.Fatal("failed to save checkpoint", zap.Error(err))
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:  "rm NAME",
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			l := getLogger(config)
			store := openCheckpoints(config, l)
			defer store.Close()
			if err := store.Delete(args[0]); err != nil {
				l.Fatal("failed to delete checkpoint", zap.Error(err))
			}
		},
	})
	return cmd
}
