package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/vx-labs/eventlog/eventlog"
	"github.com/vx-labs/eventlog/stats"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func healthHandler(healthServer *health.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out, err := healthServer.Check(r.Context(), &healthpb.HealthCheckRequest{
			Service: "eventlog",
		})
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(err)
			return
		}
		switch out.Status {
		case healthpb.HealthCheckResponse_SERVING:
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "passing", "msg":"service is running"}`))
		case healthpb.HealthCheckResponse_SERVICE_UNKNOWN:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"status": "not_passing", "msg":"service unknown"}`))
		case healthpb.HealthCheckResponse_NOT_SERVING:
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"status": "warning", "msg":"service is not serving"}`))
		case healthpb.HealthCheckResponse_UNKNOWN:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"status": "not_passing", "msg":"unknown failure"}`))
		}
	})
}

// historyHandler streams every stored event from the "from" query parameter.
func historyHandler(log *eventlog.Log) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var from uint64
		if v := r.URL.Query().Get("from"); v != "" {
			var err error
			from, err = strconv.ParseUint(v, 10, 64)
			if err != nil {
				http.Error(w, "invalid from position", http.StatusBadRequest)
				return
			}
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		if err := log.Dump(r.Context(), w, from); err != nil {
			eventlog.L(r.Context()).Warn("failed to dump history", zap.Error(err))
		}
	})
}

func newMux(log *eventlog.Log, healthServer *health.Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", healthHandler(healthServer))
	mux.Handle("/history", historyHandler(log))
	mux.Handle("/metrics", stats.Handler())
	return mux
}
