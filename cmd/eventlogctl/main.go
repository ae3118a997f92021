package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/eventlog/eventlog"
	"go.uber.org/zap"
)

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "eventlogctl")
}

func getLogger(config *viper.Viper) *zap.Logger {
	if config.GetBool("debug") {
		logger, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewProduction(zap.IncreaseLevel(zap.WarnLevel))
	if err != nil {
		panic(err)
	}
	return logger
}

// openLog opens the log designated by the template flag.
func openLog(ctx context.Context, config *viper.Viper, readOnly bool) (*eventlog.Log, *zap.Logger) {
	l := getLogger(config)
	opts := []eventlog.OpenOpt{eventlog.WithLogger(l)}
	if readOnly {
		opts = append(opts, eventlog.ReadOnly())
	}
	template := config.GetString("template")
	if template == "" {
		l.Fatal("no log template provided")
	}
	el, err := eventlog.Open(template, opts...)
	if err != nil {
		l.Fatal("failed to open event log", zap.Error(err), zap.String("log_template", template))
	}
	return el, l
}

func main() {
	config := viper.New()
	config.AddConfigPath(configDir())
	config.SetConfigType("yaml")
	config.SetConfigName("config")
	config.SetEnvPrefix("EVENTLOGCTL")
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()

	ctx := context.Background()
	rootCmd := &cobra.Command{
		Use: "eventlogctl",
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			config.BindPFlags(cmd.Flags())
			config.BindPFlags(cmd.PersistentFlags())
			if err := config.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					log.Fatal(err)
				}
			}
		},
	}
	rootCmd.AddCommand(Files(ctx, config))
	rootCmd.AddCommand(Events(ctx, config))
	rootCmd.AddCommand(Backup(ctx, config))
	rootCmd.AddCommand(Checkpoints(ctx, config))
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Increase log verbosity.")
	rootCmd.PersistentFlags().StringP("template", "t", "", "Log filename template, containing %y, %m and %d.")
	rootCmd.PersistentFlags().String("checkpoint-dir", "", "Directory of the consumer checkpoint store.")
	rootCmd.Execute()
}
