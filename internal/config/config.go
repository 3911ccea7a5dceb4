package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/n0needt0/goodies/plc-sink/internal/alerts"
)

type Config struct {
	App     App           `mapstructure:"app"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  Server        `mapstructure:"server"`

	// Required keys, validated before the listener starts.
	ListeningPort    int `mapstructure:"listening_port"`
	LogMaxSizeMB     int `mapstructure:"log_max_size_mb"`
	LogHistoryToKeep int `mapstructure:"log_history_to_keep"`

	UDP  UDP      `mapstructure:"udp"`
	Sink Sink     `mapstructure:"sink"`
	S3   S3Config `mapstructure:"s3"`
	SOC  SOCAlert `mapstructure:"soc"`
	Otel Otel     `mapstructure:"otel"`

	// Runtime components
	SOCAlertClient *alerts.Client `mapstructure:"-"`
}

type App struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type Server struct {
	ApiPort int `mapstructure:"api_port"`
}

type UDP struct {
	Host                string `mapstructure:"host"`
	ReadBufferSizeBytes int    `mapstructure:"read_buffer_size_bytes"`
	DataChannelSize     int    `mapstructure:"data_channel_size"`
}

type Sink struct {
	Path          string `mapstructure:"path"`
	HistoryDir    string `mapstructure:"history_dir"`
	Pattern       string `mapstructure:"pattern"`
	ConsoleMirror bool   `mapstructure:"console_mirror"`
	NormalizeJson bool   `mapstructure:"normalize_json"`
}

type S3Config struct {
	Enabled    bool   `mapstructure:"enabled"`
	BucketName string `mapstructure:"bucket_name"`
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	Ssl        bool   `mapstructure:"ssl"`
	Prefix     string `mapstructure:"prefix"`
}

type SOCAlert struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Timeout  int    `mapstructure:"timeout"`
}

type Otel struct {
	Enabled               bool   `mapstructure:"enabled"`
	Endpoint              string `mapstructure:"endpoint"`
	ScrapeIntervalSeconds int    `mapstructure:"scrapeIntervalseconds"`
}

// requiredKeys must all be present in the config file; zero values are not
// distinguishable from absent ones after unmarshal, so presence is checked on
// the koanf tree itself.
var requiredKeys = []string{"listening_port", "log_max_size_mb", "log_history_to_keep"}

// LoadConfig reads the config file, applies env overrides (envPrefix) and, when
// flags is non-nil, command line flag overrides, then validates ranges.
func LoadConfig(cfgFile, envPrefix string, flags *pflag.FlagSet, cfg *Config) error {
	if cfgFile == "" {
		cfgFile = "config.yaml"
	}

	k := koanf.New(".")

	err := k.Load(file.Provider(cfgFile), yaml.Parser())
	if err != nil {
		return errors.Wrapf(err, "failed to parse %s", cfgFile)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return errors.Wrapf(err, "error loading config from env")
	}

	// Required keys must come from the file or env; flags may only override,
	// so presence is checked before flag defaults land on the tree.
	for _, key := range requiredKeys {
		if !k.Exists(key) {
			return errors.Errorf("missing required config key %s in %s", key, cfgFile)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return errors.Wrapf(err, "error loading config from flags")
		}
	}

	err = k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"})
	if err != nil {
		return errors.Wrapf(err, "failed to unmarshal %s", cfgFile)
	}

	// Set defaults
	if cfg.UDP.Host == "" {
		cfg.UDP.Host = "0.0.0.0"
	}
	if cfg.UDP.ReadBufferSizeBytes == 0 {
		cfg.UDP.ReadBufferSizeBytes = 65536 // 64KB default
	}
	if cfg.UDP.DataChannelSize == 0 {
		cfg.UDP.DataChannelSize = 10000
	}
	if cfg.Sink.Path == "" {
		cfg.Sink.Path = "logs/plc.log"
	}
	if cfg.Sink.HistoryDir == "" {
		cfg.Sink.HistoryDir = "logs/history"
	}
	if cfg.Sink.Pattern == "" {
		cfg.Sink.Pattern = "{msg}"
	}
	if !k.Exists("sink.console_mirror") {
		cfg.Sink.ConsoleMirror = true
	}
	if cfg.Server.ApiPort == 0 {
		cfg.Server.ApiPort = 8087
	}
	if cfg.S3.Prefix == "" {
		cfg.S3.Prefix = "plc-sink"
	}

	return cfg.Validate()
}

// Validate rejects out-of-range values before the listener starts.
func (cfg *Config) Validate() error {
	if cfg.ListeningPort < 0 || cfg.ListeningPort > 65535 {
		return errors.New("listening port must be between 0 - 65535")
	}
	if cfg.LogMaxSizeMB < 1 || cfg.LogMaxSizeMB > 100 {
		return errors.New("max log size must be between 1 - 100 (mb)")
	}
	if cfg.LogHistoryToKeep < 0 || cfg.LogHistoryToKeep > 1000 {
		return errors.New("log history must be between 0 - 1000")
	}
	return nil
}

func (cfg *Config) InitializeComponents() error {
	cfg.SOCAlertClient = alerts.NewClient(alerts.ClientConfig{
		SOC: alerts.SOCConfig{
			Enabled:  cfg.SOC.Enabled,
			Endpoint: cfg.SOC.Endpoint,
			Timeout:  cfg.SOC.Timeout,
		},
		App: alerts.AppConfig{
			Name:    cfg.App.Name,
			Version: cfg.App.Version,
		},
	})

	return nil
}

// TriggerBytes returns the rotation trigger threshold in bytes.
func (cfg *Config) TriggerBytes() int64 {
	return int64(cfg.LogMaxSizeMB) * 1024 * 1024
}
