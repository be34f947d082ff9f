package server

import (
	"net/http"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"connectrpc.com/otelconnect"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otterscale/otterscale-watch/internal/handler"
)

type Handler struct {
	watch *handler.WatchService
}

func NewHandler(watch *handler.WatchService) *Handler {
	return &Handler{
		watch: watch,
	}
}

// Mount registers all handlers, middlewares, and observability tools to the mux.
func (h *Handler) Mount(mux *http.ServeMux) error {
	// Prepare Interceptors
	otelInterceptor, err := otelconnect.NewInterceptor()
	if err != nil {
		return err
	}

	interceptors := connect.WithInterceptors(
		otelInterceptor,
	)

	// Register Observability & Operations (Health, Metrics)
	services := []string{
		handler.WatchServiceName,
	}

	if err := h.registerOpsHandlers(mux, services); err != nil {
		return err
	}

	// Register Service Handlers
	mux.Handle(h.watch.Handler(interceptors))

	return nil
}

// registerOpsHandlers sets up Health Check and Metrics.
func (h *Handler) registerOpsHandlers(mux *http.ServeMux, serviceNames []string) error {
	// gRPC Health Check
	checker := grpchealth.NewStaticChecker(serviceNames...)
	mux.Handle(grpchealth.NewHandler(checker))

	// Prometheus Metrics
	exporter, err := prometheus.New()
	if err != nil {
		return err
	}
	otel.SetMeterProvider(metric.NewMeterProvider(metric.WithReader(exporter)))
	mux.Handle("/metrics", promhttp.Handler())

	return nil
}
