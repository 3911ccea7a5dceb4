package main

import (
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/n0needt0/goodies/plc-sink/internal/api"
	"github.com/n0needt0/goodies/plc-sink/internal/archive"
	"github.com/n0needt0/goodies/plc-sink/internal/config"
	"github.com/n0needt0/goodies/plc-sink/internal/domain"
	"github.com/n0needt0/goodies/plc-sink/internal/listener"
	"github.com/n0needt0/goodies/plc-sink/internal/services"
	"github.com/n0needt0/goodies/plc-sink/internal/sink"
)

var (
	conf      = config.Config{}
	envPrefix = "PLC_"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "plc-sink",
		Short:        "UDP device-log sink with rotating file storage",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFilePath, _ := cmd.Flags().GetString("config")
			return Run(cfgFilePath, cmd)
		},
	}

	cmd.Flags().String("config", "config.yaml", "--config <FILE>")
	// Flag overrides for the required keys; config file values win unless set.
	cmd.Flags().Int("listening_port", 0, "UDP port to listen on")
	cmd.Flags().Int("log_max_size_mb", 0, "rotation trigger in MB")
	cmd.Flags().Int("log_history_to_keep", 0, "archived rotated files to retain")

	return cmd
}

// Run wires the pipeline: listener -> message channel -> sink consumer ->
// rotating writer, plus the optional archive uploader and the status API.
func Run(cfgFilePath string, cmd *cobra.Command) error {
	err := config.LoadConfig(cfgFilePath, envPrefix, cmd.Flags(), &conf)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	setLogLevel(conf.Logging.Level)

	if err := conf.InitializeComponents(); err != nil {
		return errors.Wrap(err, "failed to initialize components")
	}

	var otelshutdown func()

	if conf.Otel.Enabled {
		//this initializes global otel provider
		otelshutdown = InitOtelProvider(&conf)
	}

	svcs := services.NewServices(&conf)

	//create the message channel and archive notify channel
	msgChan := make(chan domain.LogMessage, conf.UDP.DataChannelSize)
	archiveChan := make(chan string, 16)

	writer, err := sink.NewWriter(&conf, svcs.Stats, archiveChan)
	if err != nil {
		return errors.Wrap(err, "failed to initialize log storage")
	}

	server := NewServer(svcs, &conf)

	server.Consumer = sink.NewConsumer(svcs, writer, msgChan)
	server.Uploader = archive.NewUploader(svcs, &conf, archiveChan)
	server.UdpListener = listener.New(svcs, &conf, msgChan)
	server.HttpApi = api.NewAPIServer(svcs, writer, &conf)

	//start the consumer before the listener so no message waits on startup
	if err := server.Consumer.Start(); err != nil {
		return errors.Wrap(err, "failed to start sink consumer")
	}
	if err := server.Uploader.Start(); err != nil {
		return errors.Wrap(err, "failed to start archive uploader")
	}

	//a bind failure is fatal: it signals a port conflict, not a transient fault
	if err := server.UdpListener.Start(); err != nil {
		return errors.Wrap(err, "failed to start udp listener")
	}

	go server.Start()

	//serve the api, blocking until shutdown
	server.HttpApi.Serve(":"+strconv.Itoa(conf.Server.ApiPort), server.HttpApi.NewRouter())

	if conf.Otel.Enabled {
		//cleanup otel
		otelshutdown()
	}

	return nil
}

func setLogLevel(levelStr string) {
	switch strings.ToLower(levelStr) {
	case "debug":
		log.SetMinLogLevel(log.MinLevelDebug)
	case "info":
		log.SetMinLogLevel(log.MinLevelInfo)
	case "warn":
		log.SetMinLogLevel(log.MinLevelWarn)
	case "error":
		log.SetMinLogLevel(log.MinLevelError)
	}
}

// Server provides basic service functions and state common to all service types
type Server struct {
	Config      *config.Config
	Name        string
	quitterC    chan time.Duration
	HttpApi     *api.APIServer
	UdpListener *listener.Listener
	Consumer    *sink.Consumer
	Uploader    *archive.Uploader
	Services    *services.Services
}

func NewServer(services *services.Services, conf *config.Config) *Server {
	return &Server{
		Config:   conf,
		Name:     conf.App.Name,
		quitterC: make(chan time.Duration),
		Services: services,
	}
}

func (svc *Server) Start() {
	// exit cleanly on signal
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGABRT, syscall.SIGTERM)
	go func() {
		sig := <-signalC
		log.Debugf("Received signal %v", sig)

		if err := svc.Stop(2 * time.Second); err != nil {
			log.Fatalf("error stopping service: %v", err)
		}
	}()

	timeout := <-svc.quitterC
	log.Debugf("shutting down with timeout %s", timeout)

	//lets bring em down one by one, sources before sinks
	svc.UdpListener.Stop()
	svc.Consumer.Shutdown()
	svc.Uploader.Shutdown()
	svc.HttpApi.Stop()
}

func (svc *Server) Stop(timeout time.Duration) error {
	defer close(svc.quitterC)

	log.Debugf("sending timeout %s to quitterC:", timeout)

	select {
	case svc.quitterC <- timeout:
		log.Debug("sent")
	case <-time.After(timeout + (100 * time.Millisecond)):
		log.Debug("timed out")
	default:
		log.Debug("must have already closed")
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("failed to start: %s\n", err.Error())
		os.Exit(11)
	}
}
