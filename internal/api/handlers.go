package api

import (
	"context"
	"errors"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/swaggest/usecase"
	"github.com/swaggest/usecase/status"

	"github.com/n0needt0/goodies/plc-sink/internal/config"
	"github.com/n0needt0/goodies/plc-sink/internal/services"
	"github.com/n0needt0/goodies/plc-sink/internal/sink"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	ServiceName string            `json:"service_name"`
	Timestamp   string            `json:"timestamp"`
	Listener    ListenerStatus    `json:"listener"`
	Stats       SinkStatsResponse `json:"stats"`
}

type ListenerStatus struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type SinkStatsResponse struct {
	DatagramsReceived int64  `json:"datagrams_received"`
	DecodeErrors      int64  `json:"decode_errors"`
	MessagesDropped   int64  `json:"messages_dropped"`
	MessagesWritten   int64  `json:"messages_written"`
	BytesReceived     int64  `json:"bytes_received"`
	BytesWritten      int64  `json:"bytes_written"`
	Rotations         int64  `json:"rotations"`
	ArchivesUploaded  int64  `json:"archives_uploaded"`
	UploadErrors      int64  `json:"upload_errors"`
	LastActivity      string `json:"last_activity"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
}

// ConfigResponse represents the current system configuration
type ConfigResponse struct {
	App      AppConfig      `json:"app"`
	Server   ServerConfig   `json:"server"`
	Listener ListenerConfig `json:"listener"`
	SinkCfg  SinkConfig     `json:"sink"`
	S3       S3ConfigMasked `json:"s3"`
}

type AppConfig struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type ServerConfig struct {
	ApiPort int `json:"api_port"`
}

type ListenerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadBufferSizeBytes int    `json:"read_buffer_size_bytes"`
	DataChannelSize     int    `json:"data_channel_size"`
}

type SinkConfig struct {
	Path             string `json:"path"`
	HistoryDir       string `json:"history_dir"`
	Pattern          string `json:"pattern"`
	LogMaxSizeMB     int    `json:"log_max_size_mb"`
	LogHistoryToKeep int    `json:"log_history_to_keep"`
	ConsoleMirror    bool   `json:"console_mirror"`
	NormalizeJson    bool   `json:"normalize_json"`
}

type S3ConfigMasked struct {
	Enabled    bool   `json:"enabled"`
	BucketName string `json:"bucket_name"`
	Endpoint   string `json:"endpoint"`
	AccessKey  string `json:"access_key"` // masked
	Prefix     string `json:"prefix"`
}

// TemplateRequest carries a runtime formatting-template change.
type TemplateRequest struct {
	Pattern string `json:"pattern" example:"{ts} | {level} | {msg}"`
}

type TemplateResponse struct {
	Status  string `json:"status"`
	Pattern string `json:"pattern"`
}

// API holds the API configuration and services
type API struct {
	Services *services.Services
	Writer   *sink.Writer
	Config   *config.Config
}

// NewAPI creates a new API instance
func NewAPI(services *services.Services, writer *sink.Writer, conf *config.Config) *API {
	return &API{
		Services: services,
		Writer:   writer,
		Config:   conf,
	}
}

// maskSensitiveValue masks sensitive configuration values
func maskSensitiveValue(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "***" + value[len(value)-4:]
}

// HealthCheck returns a health check handler
func (api *API) HealthCheck() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input struct{}, output *HealthResponse) error {
		cfg := api.Config
		stats := api.Services.GetStats().Snapshot()

		overallStatus := "healthy"
		if !api.Services.IsHealthy() {
			overallStatus = "degraded"
		}

		output.Status = overallStatus
		output.Version = cfg.App.Version
		output.ServiceName = cfg.App.Name
		output.Timestamp = time.Now().UTC().Format(time.RFC3339)

		output.Listener = ListenerStatus{
			Host: cfg.UDP.Host,
			Port: cfg.ListeningPort,
		}

		lastActivity := ""
		if !stats.LastActivity.IsZero() {
			lastActivity = stats.LastActivity.Format(time.RFC3339)
		}

		output.Stats = SinkStatsResponse{
			DatagramsReceived: stats.DatagramsReceived,
			DecodeErrors:      stats.DecodeErrors,
			MessagesDropped:   stats.MessagesDropped,
			MessagesWritten:   stats.MessagesWritten,
			BytesReceived:     stats.BytesReceived,
			BytesWritten:      stats.BytesWritten,
			Rotations:         stats.Rotations,
			ArchivesUploaded:  stats.ArchivesUploaded,
			UploadErrors:      stats.UploadErrors,
			LastActivity:      lastActivity,
			UptimeSeconds:     api.Services.UptimeSeconds(),
		}

		log.Debugf("Health check completed: status=%s", overallStatus)
		return nil
	})

	u.SetTitle("Health Check")
	u.SetDescription("Check the health status of the PLC sink service")
	u.SetTags("Health")

	return u
}

// GetConfig returns a handler for getting current system configuration
func (api *API) GetConfig() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input struct{}, output *ConfigResponse) error {
		cfg := api.Config

		output.App = AppConfig{
			Name:    cfg.App.Name,
			Version: cfg.App.Version,
		}

		output.Server = ServerConfig{
			ApiPort: cfg.Server.ApiPort,
		}

		output.Listener = ListenerConfig{
			Host:                cfg.UDP.Host,
			Port:                cfg.ListeningPort,
			ReadBufferSizeBytes: cfg.UDP.ReadBufferSizeBytes,
			DataChannelSize:     cfg.UDP.DataChannelSize,
		}

		output.SinkCfg = SinkConfig{
			Path:             cfg.Sink.Path,
			HistoryDir:       cfg.Sink.HistoryDir,
			Pattern:          string(api.Writer.Pattern()),
			LogMaxSizeMB:     cfg.LogMaxSizeMB,
			LogHistoryToKeep: cfg.LogHistoryToKeep,
			ConsoleMirror:    cfg.Sink.ConsoleMirror,
			NormalizeJson:    cfg.Sink.NormalizeJson,
		}

		output.S3 = S3ConfigMasked{
			Enabled:    cfg.S3.Enabled,
			BucketName: cfg.S3.BucketName,
			Endpoint:   cfg.S3.Endpoint,
			AccessKey:  maskSensitiveValue(cfg.S3.AccessKey),
			Prefix:     cfg.S3.Prefix,
		}

		return nil
	})

	u.SetTitle("Get Configuration")
	u.SetDescription("Get the current service configuration with sensitive values masked")
	u.SetTags("Config")

	return u
}

// SetTemplate returns a handler that swaps the active formatting template at
// runtime. The writer keeps the open file and byte counter; only rendering of
// subsequent lines changes.
func (api *API) SetTemplate() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input TemplateRequest, output *TemplateResponse) error {
		if input.Pattern == "" {
			return status.Wrap(errors.New("pattern must not be empty"), status.InvalidArgument)
		}

		api.Writer.Reconfigure(sink.Pattern(input.Pattern))

		output.Status = "ok"
		output.Pattern = input.Pattern
		return nil
	})

	u.SetTitle("Set Formatting Template")
	u.SetDescription("Swap the log line formatting template without restarting or rotating")
	u.SetTags("Config")
	u.SetExpectedErrors(status.InvalidArgument)

	return u
}
