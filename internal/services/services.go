package services

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/n0needt0/goodies/plc-sink/internal/config"
	"github.com/n0needt0/goodies/plc-sink/internal/domain"
)

const (
	METER = "otel-meter"
)

// Services holds shared state handed to every component.
type Services struct {
	Config    *config.Config
	Stats     *domain.SinkStats
	OtelMeter metric.Meter
	StartedAt time.Time
}

func NewServices(conf *config.Config) *Services {
	return &Services{
		Config:    conf,
		Stats:     &domain.SinkStats{},
		OtelMeter: otel.Meter(METER),
		StartedAt: time.Now(),
	}
}

// IsHealthy checks if all critical services are healthy
func (s *Services) IsHealthy() bool {
	return true
}

func (s *Services) GetStats() *domain.SinkStats {
	return s.Stats
}

func (s *Services) UptimeSeconds() int64 {
	return int64(time.Since(s.StartedAt).Seconds())
}
