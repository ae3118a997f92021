package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/eventlog/checkpoint"
	"github.com/vx-labs/eventlog/stream"
	"go.uber.org/zap"
)

const eventTemplate = `{{ .Pos | faint }} {{ .ID | idToDate | yellow | faint }} {{ .Event }}`

type eventView struct {
	Pos     uint64
	PrevPos uint64
	ID      string
	Event   string
}

func openCheckpoints(config *viper.Viper, l *zap.Logger) *checkpoint.Store {
	dir := config.GetString("checkpoint-dir")
	if dir == "" {
		l.Fatal("no checkpoint directory provided")
	}
	store, err := checkpoint.Open(dir, l)
	if err != nil {
		l.Fatal("failed to open checkpoint store", zap.Error(err))
	}
	return store
}

func Events(ctx context.Context, config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use: "events",
	}
	read := &cobra.Command{
		Use:   "read",
		Short: "Print stored events",
		Run: func(cmd *cobra.Command, _ []string) {
			el, l := openLog(ctx, config, true)
			defer el.Close()
			tpl, err := ParseTemplate(config.GetString("format"))
			if err != nil {
				l.Fatal("invalid format", zap.Error(err))
			}
			from := config.GetUint64("from-position")
			follow := config.GetBool("follow")
			name := config.GetString("checkpoint")
			var store *checkpoint.Store
			if name != "" {
				store = openCheckpoints(config, l)
				defer store.Close()
				if !cmd.Flags().Changed("from-position") {
					if pos, ok, err := store.Get(name); err != nil {
						l.Fatal("failed to read checkpoint", zap.Error(err))
					} else if ok {
						from = pos
					}
				}
			}
			if !follow {
				if _, ok, err := el.Index().FileByPosition(from); err != nil || !ok {
					fmt.Fprintf(cmd.ErrOrStderr(), "0 events\n")
					return
				}
			}
			count := 0
			var handler stream.Handler = func(ctx context.Context, event json.RawMessage, meta stream.Meta) error {
				count++
				return tpl.Execute(cmd.OutOrStdout(), eventView{
					Pos:     meta.Pos,
					PrevPos: meta.PrevPos,
					ID:      meta.ID,
					Event:   string(event),
				})
			}
			if store != nil {
				handler = store.Track(name, handler)
			}
			synced := make(chan struct{})
			var once sync.Once
			opts := []stream.ConsumerOpt{stream.FromPosition(from), stream.WithName("eventlogctl")}
			if !follow {
				opts = append(opts, stream.OnSync(func(stream.SyncInfo) {
					once.Do(func() { close(synced) })
				}))
			}
			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
			cursor := el.Consume(ctx, handler, opts...)
			select {
			case <-synced:
			case <-sigc:
			case <-cursor.Done():
			}
			cursor.Stop()
			<-cursor.Done()
			if err := cursor.Err(); err != nil {
				l.Error("failed to read events", zap.Error(err))
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d events\n", count)
		},
	}
	read.Flags().String("format", eventTemplate, "Format each event using Golang template format.")
	read.Flags().Uint64P("from-position", "p", 0, "Read events stored at or after the given position.")
	read.Flags().BoolP("follow", "f", false, "Keep waiting for new events.")
	read.Flags().StringP("checkpoint", "c", "", "Resume from, and save progress to, the given checkpoint.")
	cmd.AddCommand(read)

	add := &cobra.Command{
		Use:   "add [JSON event]...",
		Short: "Append events given as arguments, or read from stdin one per line",
		Run: func(cmd *cobra.Command, args []string) {
			el, l := openLog(ctx, config, false)
			defer el.Close()
			table := getTable([]string{"Position", "Previous position", "ID", "File"}, cmd.OutOrStdout())
			appendOne := func(body string) {
				body = strings.TrimSpace(body)
				if body == "" {
					return
				}
				if !json.Valid([]byte(body)) {
					l.Fatal("event is not a JSON document", zap.String("event", body))
				}
				p, err := el.Add(json.RawMessage(body))
				if err != nil {
					l.Fatal("failed to add event", zap.Error(err))
				}
				meta, err := p.Wait(ctx)
				if err != nil {
					l.Fatal("failed to confirm event", zap.Error(err))
				}
				table.Append([]string{fmt.Sprintf("%d", meta.Pos), fmt.Sprintf("%d", meta.PrevPos), p.ID, p.Logfile})
			}
			if len(args) > 0 {
				for _, arg := range args {
					appendOne(arg)
				}
			} else {
				appendLines(cmd.InOrStdin(), appendOne)
			}
			table.Render()
		},
	}
	cmd.AddCommand(add)
	return cmd
}

func appendLines(r io.Reader, f func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		f(scanner.Text())
	}
}
