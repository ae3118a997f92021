package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func Files(ctx context.Context, config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "files",
		Aliases: []string{"ls"},
		Short:   "List log files",
		Run: func(cmd *cobra.Command, _ []string) {
			el, l := openLog(ctx, config, true)
			defer el.Close()
			files, err := el.Index().ListFiles()
			if err != nil {
				l.Fatal("failed to list files", zap.Error(err))
			}
			table := getTable([]string{"Date", "First position", "Size", "Modified", "Name"}, cmd.OutOrStdout())
			var size uint64
			for _, file := range files {
				size += file.Size
				table.Append([]string{
					file.Date,
					fmt.Sprintf("%d", file.FirstPosition),
					humanize.Bytes(file.Size),
					humanize.Time(time.Unix(0, file.ModTime)),
					file.Name,
				})
			}
			table.Render()
			fmt.Fprintf(cmd.ErrOrStderr(), "%d files, %s\n", len(files), humanize.Bytes(size))
		},
	}
	return cmd
}
