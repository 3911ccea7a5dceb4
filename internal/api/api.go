package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/swaggest/openapi-go/openapi3"
	"github.com/swaggest/rest/web"
	swgui "github.com/swaggest/swgui/v5emb"
	"go.opentelemetry.io/otel/metric"

	"github.com/n0needt0/goodies/plc-sink/internal/config"
	"github.com/n0needt0/goodies/plc-sink/internal/services"
	"github.com/n0needt0/goodies/plc-sink/internal/sink"
)

// APIServer exposes the operational surface: health/stats, masked config and
// the runtime formatting-template reconfigure.
type APIServer struct {
	Services   *services.Services
	Writer     *sink.Writer
	ApiMetrics map[string]metric.Int64Counter
	HttpServer *http.Server
	sync.RWMutex
	Config *config.Config
}

// NewAPIServer creates a new API server instance
func NewAPIServer(services *services.Services, writer *sink.Writer, conf *config.Config) *APIServer {
	return &APIServer{
		Services:   services,
		Writer:     writer,
		ApiMetrics: make(map[string]metric.Int64Counter),
		Config:     conf,
	}
}

// UseMetric returns the counter registered under label, creating it on first
// use.
func (apiServer *APIServer) UseMetric(label, description string) metric.Int64Counter {
	apiServer.RLock()
	mtr, ok := apiServer.ApiMetrics[label]
	apiServer.RUnlock()
	if ok {
		return mtr
	}

	m, err := apiServer.Services.OtelMeter.Int64Counter(label, metric.WithDescription(description))
	if err != nil {
		log.Error("failed to init the metrics" + err.Error())
		return nil
	}

	apiServer.Lock()
	apiServer.ApiMetrics[label] = m
	apiServer.Unlock()
	return m
}

// NewRouter returns a new router serving API endpoints
func (apiServer *APIServer) NewRouter() *web.Service {
	service := web.NewService(openapi3.NewReflector())

	service.OpenAPISchema().SetTitle("PLC Sink API")
	service.OpenAPISchema().SetDescription("UDP device-log sink status and runtime configuration API")
	service.OpenAPISchema().SetVersion("v1.0.0")

	service.DecoderFactory.ApplyDefaults = true

	service.Wrap()

	api := NewAPI(apiServer.Services, apiServer.Writer, apiServer.Config)

	service.Get("/api/v1/health", api.HealthCheck())
	service.Get("/api/v1/config", api.GetConfig())
	service.Put("/api/v1/template", api.SetTemplate())

	service.Docs("/v1/docs", swgui.New)

	service.Router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/v1/docs", http.StatusFound)
	})

	return service
}

// Serve serves http endpoints
func (apiServer *APIServer) Serve(address string, router http.Handler) {
	log.Infof("API server started on %s", address)

	apiServer.HttpServer = &http.Server{
		Addr:           address,
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	err := apiServer.HttpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		log.Info("API server closed")
	} else {
		log.Errorf("API server failed and closed: %v", err)
	}
}

// Stop stops the server
func (apiServer *APIServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer func() {
		apiServer.HttpServer = nil
		cancel()
	}()

	if apiServer.HttpServer != nil {
		if err := apiServer.HttpServer.Shutdown(ctx); err != nil {
			log.Errorf("error shutting down API server: %v", err)
		}
	}

	log.Info("API server shut down gracefully")
}
