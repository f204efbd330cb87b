// Powersensor daemon.
//
// powersensord finds Powersensor plugs on the LAN by mDNS, keeps one UDP
// telemetry stream per plug, materializes plugs and the sensors they relay
// into a local catalogue, and republishes readings and household figures
// over MQTT, InfluxDB, WebSocket, and Prometheus.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/powersensor-core/migrations"

	"github.com/nerrad567/powersensor-core/internal/api"
	"github.com/nerrad567/powersensor-core/internal/audit"
	"github.com/nerrad567/powersensor-core/internal/bus"
	"github.com/nerrad567/powersensor-core/internal/device"
	"github.com/nerrad567/powersensor-core/internal/discovery"
	"github.com/nerrad567/powersensor-core/internal/dispatcher"
	"github.com/nerrad567/powersensor-core/internal/fanout"
	"github.com/nerrad567/powersensor-core/internal/household"
	"github.com/nerrad567/powersensor-core/internal/infrastructure/config"
	"github.com/nerrad567/powersensor-core/internal/infrastructure/database"
	"github.com/nerrad567/powersensor-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/powersensor-core/internal/infrastructure/logging"
	"github.com/nerrad567/powersensor-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/powersensor-core/internal/plug"
	"github.com/nerrad567/powersensor-core/internal/roles"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds dispatcher teardown at exit.
const shutdownTimeout = 15 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Startup wiring is linear
	log := logging.Default()
	log.Info("starting powersensord",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Storage
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	events := bus.New(log.Component("bus"))

	roleStore := roles.NewStore(db, events, log.Component("roles"))
	if loadErr := roleStore.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading roles: %w", loadErr)
	}
	roleStore.Subscribe(events)

	// Lifecycle journal
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, log.Component("audit"))
	recorder.Seed(roleStore.Roles())
	recorder.Subscribe(events)

	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	deviceRegistry.SetLogger(log.Component("registry"))
	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	materializer := device.NewMaterializer(deviceRegistry, events, log.Component("materializer"))
	materializer.Subscribe(events)

	// Optional sinks
	checks := map[string]api.HealthChecker{"database": db}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Household figures
	var aggregator *household.Aggregator
	if cfg.Household.Enabled {
		aggregator = household.New(events, log.Component("household"))
		aggregator.Subscribe(events)
	}

	// Dispatcher
	dispatcherOpts := dispatcher.Options{
		Bus:               events,
		NewClient:         plugFactory(cfg.Plug, log.Component("plug")),
		Roles:             roleStore,
		Logger:            log.Component("dispatcher"),
		RemovalDelay:      cfg.Dispatcher.RemovalDelay(),
		PollInterval:      cfg.Dispatcher.Poll(),
		DisconnectTimeout: cfg.Dispatcher.TeardownTimeout(),
	}
	if aggregator != nil {
		dispatcherOpts.Aggregator = aggregator
	}
	disp, err := dispatcher.New(dispatcherOpts)
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	// Outputs
	metrics := fanout.NewMetrics()
	metrics.WatchDispatcher(disp)

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))

	fanoutOpts := fanout.Options{
		Hub:     hub,
		Metrics: metrics,
		Logger:  log.Component("fanout"),
	}
	if mqttClient != nil {
		fanoutOpts.MQTT = mqttClient
		if cmdErr := fanout.RoleCommands(mqttClient, events, log.Component("commands")); cmdErr != nil {
			return fmt.Errorf("subscribing to role commands: %w", cmdErr)
		}
	}
	if influxClient != nil {
		fanoutOpts.Influx = influxClient
	}
	out := fanout.New(fanoutOpts)
	out.Subscribe(events)

	// Every have-solar listener is subscribed; replay the persisted flag.
	roleStore.AnnounceSolar()

	var (
		adapter *discovery.Adapter
		browser *discovery.Browser
	)
	if cfg.Discovery.Enabled {
		adapter = discovery.NewAdapter(
			discovery.WithLogger(log.Component("discovery")),
			discovery.WithRemovalDelay(time.Duration(cfg.Discovery.RemovalDebounce)*time.Second),
		)
		defer adapter.Close()

		browser = discovery.NewBrowser(discovery.BrowserConfig{
			Service:       cfg.Discovery.Service,
			Domain:        cfg.Discovery.Domain,
			Interface:     cfg.Discovery.Interface,
			AddressMaxAge: time.Duration(cfg.Discovery.AddressMaxAge) * time.Second,
		}, adapter, log.Component("mdns"))
	}

	apiDeps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.Component("api"),
		Registry:   deviceRegistry,
		Dispatcher: disp,
		Roles:      roleStore,
		Journal:    auditRepo,
		DB:         db,
		Metrics:    metrics.Handler(),
		Checks:     checks,
		Hub:        hub,
		Version:    version,
	}
	if aggregator != nil {
		apiDeps.Household = aggregator
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	if adapter != nil {
		apiDeps.Discovery = adapter
		apiDeps.Browser = browser
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if startErr := disp.Start(gctx); startErr != nil {
		return fmt.Errorf("starting dispatcher: %w", startErr)
	}
	if startErr := server.Start(gctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return out.Run(gctx) })
	g.Go(func() error { return recorder.Run(gctx) })

	if adapter != nil {
		g.Go(func() error { return browser.Run(gctx) })
		g.Go(func() error { return disp.Consume(gctx, adapter.Intents()) })
	} else {
		log.Warn("discovery disabled; no plugs will be connected")
	}

	log.Info("powersensord ready",
		"api", server.Addr(),
		"household", cfg.Household.Enabled,
		"solar", roleStore.WithSolar(),
	)

	<-gctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := disp.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Error("dispatcher shutdown incomplete", "error", shutdownErr)
	}

	waitErr := g.Wait()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}

	delivered, dropped := out.Stats()
	journaled, skipped := recorder.Stats()
	log.Info("powersensord stopped",
		"delivered", delivered,
		"dropped", dropped,
		"journaled", journaled,
		"journal_dropped", skipped,
	)
	if influxClient != nil {
		log.Info("influxdb writes", "errors", influxClient.WriteErrors())
	}
	return nil
}

// plugFactory builds unconnected plug clients with the configured options.
// Records advertised without a port use the default plug port.
func plugFactory(cfg config.PlugConfig, log *logging.Logger) dispatcher.ClientFactory {
	return func(mac, host string, port int) dispatcher.Client {
		if port == 0 {
			port = cfg.DefaultPort
		}
		return plug.New(mac, host, port,
			plug.WithLogger(log.Device(mac)),
			plug.WithResubscribeInterval(time.Duration(cfg.ResubscribeInterval)*time.Second),
			plug.WithReadBuffer(cfg.ReadBuffer),
		)
	}
}

// getConfigPath returns the configuration file path.
// It checks the POWERSENSOR_CONFIG environment variable first,
// then falls back to the default path.
func getConfigPath() string {
	if path := os.Getenv("POWERSENSOR_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
