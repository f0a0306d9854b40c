// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"spark-service/internal/codec"
	"spark-service/internal/config"
	"spark-service/internal/discovery"
	"spark-service/internal/discovery/mdns"
	"spark-service/internal/discovery/usb"
	"spark-service/internal/handler"
	"spark-service/internal/model"
	"spark-service/internal/mqtt"
	"spark-service/internal/protocol"
	"spark-service/internal/routes"
	"spark-service/internal/service"
	"spark-service/internal/state"
	"spark-service/internal/utils"
)

const shutdownTimeout = 10 * time.Second

// Application wires the connection lifecycle to the HTTP status surface
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server

	state        *state.StateMachine
	scanners     *discovery.ScannerManager
	mqttClient   *mqtt.Client
	tracker      *mqtt.DeviceTracker
	connection   *service.ConnectionHandler
	commander    *service.Commander
	synchronizer *service.Synchronizer

	eventBus  *handler.EventBus
	websocket *handler.WebSocketHandler
}

var configFile string

var rootCmd = &cobra.Command{
	Use:   "spark-service",
	Short: "Brewblox Spark controller connection service",
	Long: `Connects to a single Spark controller over USB, TCP, MQTT or a simulator,
keeps the connection alive and exposes its status over HTTP.

Without --device-host or --device-serial the controller is discovered
using the methods selected by --discovery.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "Config file (default ./config.yaml)")

	flags.String("name", "spark-one", "Service name")
	flags.Bool("debug", false, "Enable debug logging")
	flags.Bool("mock", false, "Use a mocked controller")
	flags.Bool("simulation", false, "Start and connect to a simulated controller")
	flags.String("device-host", "", "Controller TCP host")
	flags.Int("device-port", 8332, "Controller TCP port")
	flags.String("device-serial", "", "Controller USB serial port")
	flags.String("device-id", "", "Expected controller device ID")
	flags.String("discovery", "all", "Discovery methods: all, usb, mdns, mqtt")
	flags.Bool("skip-version-check", false, "Accept incompatible firmware")
	flags.String("mqtt-protocol", "mqtt", "Eventbus protocol: mqtt, mqtts, ws, wss")
	flags.String("mqtt-host", "eventbus", "Eventbus host")
	flags.Int("mqtt-port", 1883, "Eventbus port")
	flags.Bool("isolated", false, "Do not use the eventbus")
	flags.String("http-port", "5000", "HTTP server port")
	flags.String("log-level", "info", "Log level")

	bindFlags(viper.GetViper(), flags)
}

// bindFlags maps command line flags onto config keys
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	keys := map[string]string{
		"name":               "service.name",
		"debug":              "service.debug",
		"mock":               "device.mock",
		"simulation":         "device.simulation",
		"device-host":        "device.device_host",
		"device-port":        "device.device_port",
		"device-serial":      "device.device_serial",
		"device-id":          "device.device_id",
		"discovery":          "device.discovery",
		"skip-version-check": "device.skip_version_check",
		"mqtt-protocol":      "mqtt.protocol",
		"mqtt-host":          "mqtt.host",
		"mqtt-port":          "mqtt.port",
		"isolated":           "mqtt.isolated",
		"http-port":          "server.port",
		"log-level":          "logging.level",
	}

	for flag, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", flag, err))
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.CloseLogger(logger)

	app, err := NewApplication(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		var aborted *model.DiscoveryAbortedError
		if errors.As(err, &aborted) {
			logger.Error("Restart required to discover new controllers", zap.Error(err))
		} else {
			logger.Error("Application stopped with error", zap.Error(err))
		}
		return err
	}
	return nil
}

// NewApplication creates all components. Nothing connects until Start.
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	serviceLogger := utils.NewServiceLogger(logger, cfg.Service.Name)
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	app.initializeState()
	app.initializeDiscovery()

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initializeServer()
	return app, nil
}

func (app *Application) initializeState() {
	cfg := app.config
	app.state = state.NewStateMachine(state.Config{
		ServiceName: cfg.Service.Name,
		Firmware: model.FirmwareDescription{
			FirmwareVersion: cfg.Firmware.FirmwareVersion,
			ProtoVersion:    cfg.Firmware.ProtoVersion,
			FirmwareDate:    cfg.Firmware.FirmwareDate,
			ProtoDate:       cfg.Firmware.ProtoDate,
		},
		DeviceID:         cfg.Device.DeviceID,
		SkipVersionCheck: cfg.Device.SkipVersionCheck,
	}, app.logger)

	app.eventBus = handler.NewEventBus(app.logger)
	app.state.OnChange(app.eventBus.PublishStatus)
}

func (app *Application) initializeDiscovery() {
	app.scanners = discovery.NewScannerManager(app.logger)
	app.scanners.RegisterScanner(usb.NewScanner(app.logger))
	app.scanners.RegisterScanner(mdns.NewScanner(app.logger))

	if app.config.MQTT.Isolated {
		app.logger.Info("Isolated service, eventbus disabled")
		return
	}

	app.mqttClient = mqtt.NewClient(mqtt.ClientConfig{
		BrokerURL:   app.config.GetMQTTBrokerURL(),
		ServiceName: app.config.Service.Name,
	}, app.logger)
	app.tracker = mqtt.NewDeviceTracker(app.mqttClient, app.config.MQTT.Isolated,
		app.config.Connection.DiscoveryTimeoutMQTT, app.logger)
}

func (app *Application) initializeServices() error {
	cfg := app.config

	c, err := codec.NewCBORCodec()
	if err != nil {
		return fmt.Errorf("failed to create codec: %w", err)
	}

	connectors := service.NewConnectors(cfg, c, app.scanners, app.tracker, app.logger)

	app.connection = service.NewConnectionHandler(service.HandlerConfig{
		Settings:           protocolSettings(cfg),
		ConnectInterval:    cfg.Connection.ConnectInterval,
		ConnectIntervalMax: cfg.Connection.ConnectIntervalMax,
		DiscoveryInterval:  cfg.Connection.DiscoveryInterval,
		DiscoveryTimeout:   cfg.Connection.DiscoveryTimeout,
		MaxRetryCount:      cfg.Connection.MaxRetryCount,
	}, app.state, connectors, app.logger)

	app.commander = service.NewCommander(c, app.connection, app.state, cfg.Command.Timeout, app.logger)
	app.connection.SetCallbacks(app.commander)

	app.synchronizer = service.NewSynchronizer(service.SynchronizerConfig{
		HandshakeTimeout:  cfg.Connection.HandshakeTimeout,
		HandshakeInterval: cfg.Connection.HandshakeInterval,
	}, app.state, app.commander, app.logger)

	app.logger.Info("Services initialized successfully",
		zap.String("connection", app.connection.String()),
	)
	return nil
}

func (app *Application) initializeServer() {
	app.websocket = handler.NewWebSocketHandler(app.state, app.eventBus, app.logger)

	router := routes.NewRouter(
		app.config,
		app.logger,
		app.state,
		app.commander,
		app.scanners,
		app.websocket,
	).SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}
}

// Start runs until ctx is cancelled or the connection handler requires a restart
func (app *Application) Start(ctx context.Context) error {
	if app.mqttClient != nil {
		if err := app.mqttClient.Connect(ctx); err != nil {
			app.logger.Warn("Eventbus connection failed", zap.Error(err))
		}
		if err := app.tracker.Start(ctx); err != nil {
			app.logger.Warn("Failed to start MQTT device tracker", zap.Error(err))
		}
	}

	app.state.SetEnabled(true)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.eventBus.Start(ctx)
		return nil
	})

	g.Go(func() error {
		app.websocket.Run(ctx)
		return nil
	})

	g.Go(func() error {
		return app.connection.Repeat(ctx)
	})

	g.Go(func() error {
		return app.synchronizer.Repeat(ctx)
	})

	g.Go(func() error {
		app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		app.shutdown()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.Service.Name)
	serviceLogger.LogServiceStop("shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := app.connection.End(ctx); err != nil {
		app.logger.Warn("Failed to close controller connection", zap.Error(err))
	}
	app.commander.WaitChecks()

	if app.mqttClient != nil {
		if err := app.tracker.Stop(ctx); err != nil {
			app.logger.Debug("Failed to stop MQTT device tracker", zap.Error(err))
		}
		app.mqttClient.Disconnect()
	}

	app.logger.Info("Application shutdown completed")
}

func protocolSettings(cfg *config.Config) protocol.Settings {
	return protocol.Settings{
		Mock:         cfg.Device.Mock,
		Simulation:   cfg.Device.Simulation,
		DeviceHost:   cfg.Device.DeviceHost,
		DevicePort:   cfg.Device.DevicePort,
		DeviceSerial: cfg.Device.DeviceSerial,
		DeviceID:     cfg.Device.DeviceID,
		Discovery:    cfg.DiscoveryType(),
	}
}
