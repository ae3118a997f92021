package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/eventlog/checkpoint"
	"github.com/vx-labs/eventlog/eventlog"
	"github.com/vx-labs/eventlog/ingest"
	"github.com/vx-labs/eventlog/stats"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var BuiltVersion = "snapshot"

type operations struct {
	wg sync.WaitGroup
}

func (o *operations) Run(ctx context.Context, name string, f func(context.Context) error) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := f(ctx); err != nil {
			eventlog.L(ctx).Error("asynchronous operation failed", zap.String("operation_name", name), zap.Error(err))
		} else {
			eventlog.L(ctx).Debug("asynchronous operation stopped", zap.String("operation_name", name))
		}
	}()
}

func (o *operations) Wait() {
	o.wg.Wait()
}

func brokerOpts(ctx context.Context, config *viper.Viper) ingest.BrokerOpts {
	broker := config.GetString("mqtt-broker")
	if config.GetBool("consul-broker-discovery") {
		discoveryStarted := time.Now()
		found, err := findBroker(config.GetString("consul-service-name"), config.GetString("consul-service-tag"))
		if err != nil {
			eventlog.L(ctx).Fatal("failed to find MQTT broker on Consul", zap.Error(err))
		}
		eventlog.L(ctx).Debug("discovered MQTT broker using Consul",
			zap.Duration("consul_discovery_duration", time.Since(discoveryStarted)), zap.String("mqtt_broker", found))
		broker = found
	}
	return ingest.BrokerOpts{
		URL:      broker,
		Username: config.GetString("mqtt-username"),
		Password: config.GetString("mqtt-password"),
		ClientID: config.GetString("mqtt-client-id"),
		QoS:      byte(config.GetInt("mqtt-qos")),
	}
}

func main() {
	config := viper.New()
	config.SetEnvPrefix("EVENTLOGD")
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()
	cmd := cobra.Command{
		Use: "eventlogd",
		PreRun: func(cmd *cobra.Command, _ []string) {
			config.BindPFlags(cmd.Flags())
		},
		Run: func(cmd *cobra.Command, _ []string) {
			ctx, cancel := context.WithCancel(context.Background())
			ctx = eventlog.StoreLogger(ctx, getLogger(config))
			err := os.MkdirAll(config.GetString("data-dir"), 0700)
			if err != nil {
				eventlog.L(ctx).Fatal("failed to create data directory", zap.Error(err))
			}
			if config.GetBool("pprof") {
				address := fmt.Sprintf("%s:%d", config.GetString("pprof-address"), config.GetInt("pprof-port"))
				go func() {
					mux := http.NewServeMux()
					mux.HandleFunc("/debug/pprof/", pprof.Index)
					mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
					mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
					mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
					mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
					panic(http.ListenAndServe(address, mux))
				}()
				eventlog.L(ctx).Info("started pprof", zap.String("pprof_url", fmt.Sprintf("http://%s/", address)))
			}
			template := config.GetString("template")
			if template == "" {
				template = filepath.Join(config.GetString("data-dir"), "events", "events-%y-%m-%d.log")
			}
			ctx = eventlog.AddFields(ctx, zap.String("log_template", template))
			opts := []eventlog.OpenOpt{eventlog.WithLogger(eventlog.L(ctx))}
			if config.GetBool("read-only") {
				opts = append(opts, eventlog.ReadOnly())
			}
			log, err := eventlog.Open(template, opts...)
			if err != nil {
				eventlog.L(ctx).Fatal("failed to open event log", zap.Error(err))
			}
			checkpoints, err := checkpoint.Open(filepath.Join(config.GetString("data-dir"), "checkpoints"), eventlog.L(ctx))
			if err != nil {
				eventlog.L(ctx).Fatal("failed to open checkpoint store", zap.Error(err))
			}

			ops := &operations{}
			healthServer := health.NewServer()
			healthServer.SetServingStatus("node", healthpb.HealthCheckResponse_SERVING)
			healthServer.SetServingStatus("eventlog", healthpb.HealthCheckResponse_NOT_SERVING)

			server := rpcServer(eventlog.L(ctx), healthServer)
			rpcListener, err := net.Listen("tcp", net.JoinHostPort("::", fmt.Sprintf("%d", config.GetInt("rpc-port"))))
			if err != nil {
				eventlog.L(ctx).Fatal("rpc listener failed to start", zap.Error(err))
			}
			ops.Run(ctx, "rpc server", func(ctx context.Context) error {
				return server.Serve(rpcListener)
			})
			httpServer := &http.Server{
				Addr:    net.JoinHostPort("::", fmt.Sprintf("%d", config.GetInt("http-port"))),
				Handler: newMux(log, healthServer),
				BaseContext: func(net.Listener) context.Context {
					return ctx
				},
			}
			ops.Run(ctx, "http server", func(ctx context.Context) error {
				err := httpServer.ListenAndServe()
				if err == http.ErrServerClosed {
					return nil
				}
				return err
			})
			if port := config.GetInt("metrics-port"); port > 0 {
				go stats.ListenAndServe(port)
			}
			ops.Run(ctx, "storage statistics", func(ctx context.Context) error {
				stats.RecordStorage(ctx, log.Index(), 10*time.Second)
				return nil
			})

			if config.GetString("mqtt-broker") != "" || config.GetBool("consul-broker-discovery") {
				broker := brokerOpts(ctx, config)
				if topic := config.GetString("ingest-topic"); topic != "" && !log.ReadOnly() {
					collector := ingest.NewCollector(broker, ingest.CollectorOpts{
						Topic:    topic,
						AckTopic: config.GetString("ack-topic"),
					}, log)
					ops.Run(ctx, "mqtt collector", collector.Run)
				}
				if topic := config.GetString("relay-topic"); topic != "" {
					relayBroker := broker
					if relayBroker.ClientID != "" {
						relayBroker.ClientID += "-relay"
					}
					relay := &ingest.Relay{
						Name:        config.GetString("relay-name"),
						Topic:       topic,
						Checkpoints: checkpoints,
						Log:         log,
					}
					ops.Run(ctx, "mqtt relay", func(ctx context.Context) error {
						return relay.Run(ctx, relayBroker)
					})
				}
			}
			healthServer.Resume()
			healthServer.SetServingStatus("eventlog", healthpb.HealthCheckResponse_SERVING)
			eventlog.L(ctx).Info("eventlog started", zap.Bool("read_only", log.ReadOnly()))

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc,
				syscall.SIGINT,
				syscall.SIGTERM,
				syscall.SIGQUIT)
			<-sigc
			eventlog.L(ctx).Info("eventlog shutdown initiated")
			healthServer.Shutdown()
			eventlog.L(ctx).Debug("health server stopped")
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				eventlog.L(ctx).Error("failed to stop http server", zap.Error(err))
			}
			go func() {
				<-time.After(1 * time.Second)
				server.Stop()
			}()
			server.GracefulStop()
			eventlog.L(ctx).Debug("rpc server stopped")
			ops.Wait()
			eventlog.L(ctx).Debug("asynchronous operations stopped")
			if err := log.Close(); err != nil {
				eventlog.L(ctx).Error("failed to close event log", zap.Error(err))
			}
			if err := checkpoints.Close(); err != nil {
				eventlog.L(ctx).Error("failed to close checkpoint store", zap.Error(err))
			}
			eventlog.L(ctx).Info("eventlog successfully stopped")
		},
	}
	cmd.Flags().Bool("pprof", false, "Start pprof endpoint.")
	cmd.Flags().Int("pprof-port", 8080, "Profiling (pprof) port.")
	cmd.Flags().String("pprof-address", "127.0.0.1", "Profiling (pprof) address.")
	cmd.Flags().Bool("debug", false, "Use a fancy logger and increase logging level.")
	cmd.Flags().StringP("data-dir", "d", "/tmp/eventlog", "Eventlog persistent data location.")
	cmd.Flags().StringP("template", "t", "", "Log filename template, containing %y, %m and %d. Defaults to a file per day in data-dir.")
	cmd.Flags().Bool("read-only", false, "Refuse to append events.")

	cmd.Flags().Int("http-port", 8090, "Start health and history HTTP server on this port.")
	cmd.Flags().Int("rpc-port", 1899, "Start GRPC health server on this port.")
	cmd.Flags().Int("metrics-port", 0, "Start a dedicated Prometheus HTTP metrics server on this port.")

	cmd.Flags().String("mqtt-broker", "", "MQTT broker URL (tcp:// or tls://) used to ingest and relay events.")
	cmd.Flags().String("mqtt-username", "", "MQTT broker username.")
	cmd.Flags().String("mqtt-password", "", "MQTT broker password.")
	cmd.Flags().String("mqtt-client-id", "", "MQTT client ID.")
	cmd.Flags().Int("mqtt-qos", 1, "MQTT QoS used to subscribe and publish.")
	cmd.Flags().String("ingest-topic", "", "Append every JSON message received on this topic pattern.")
	cmd.Flags().String("ack-topic", "", "Publish the position of ingested messages on this topic.")
	cmd.Flags().String("relay-topic", "", "Publish every stored event on this topic.")
	cmd.Flags().String("relay-name", "mqtt-relay", "Checkpoint name used by the relay.")

	cmd.Flags().Bool("consul-broker-discovery", false, "Use Hashicorp Consul to find the MQTT broker.")
	cmd.Flags().String("consul-service-name", "mqtt", "Consul MQTT broker service name.")
	cmd.Flags().String("consul-service-tag", "tcp", "Consul MQTT broker service tag.")
	cmd.Execute()
}
