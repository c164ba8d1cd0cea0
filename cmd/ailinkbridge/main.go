// Ai-Link bridge - local gateway for A.O. Smith Ai-Link gas water heaters
//
// The bridge polls the vendor cloud for every water heater on the account,
// keeps a snapshot of each one, and exposes them through:
//   - Home Assistant MQTT discovery (water_heater, sensors, switches)
//   - a local REST and WebSocket API
//
// Commands from either surface go back to the cloud and show up at once as
// pending values until the next poll confirms or overrides them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/ailink-bridge/migrations"

	"github.com/nerrad567/ailink-bridge/internal/api"
	"github.com/nerrad567/ailink-bridge/internal/audit"
	"github.com/nerrad567/ailink-bridge/internal/auth"
	"github.com/nerrad567/ailink-bridge/internal/cloud"
	"github.com/nerrad567/ailink-bridge/internal/device"
	"github.com/nerrad567/ailink-bridge/internal/gateway"
	"github.com/nerrad567/ailink-bridge/internal/homeassistant"
	"github.com/nerrad567/ailink-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ailink-bridge/internal/infrastructure/database"
	"github.com/nerrad567/ailink-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/ailink-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the command-line flags.
type options struct {
	issueToken string
	role       string
}

func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("ailinkbridge", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&opts.issueToken, "issue-token", "", "print an API token for `subject` and exit")
	fs.StringVar(&opts.role, "role", string(auth.RoleViewer), "role of the issued token (viewer or controller)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command-line arguments without the program name
//   - out: Destination for command output (the issued token)
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args, out)
	if err != nil {
		return err
	}

	// Use default logger until config is loaded
	log := logging.Default()

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if opts.issueToken != "" {
		return issueToken(cfg, opts, out)
	}

	log.Info("starting Ai-Link bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	defer log.Sync() //nolint:errcheck // Nothing useful to do if flushing fails on exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Device registry and cloud client
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.With("component", "registry"))

	cloudClient, err := cloud.NewClient(cloud.Options{
		BaseURL: cfg.Cloud.BaseURL,
		Credentials: cloud.Credentials{
			AccessToken: cfg.Cloud.AccessToken,
			UserID:      cfg.Cloud.UserID,
			FamilyID:    cfg.Cloud.FamilyID,
			Cookie:      cfg.Cloud.Cookie,
			Mobile:      cfg.Cloud.Mobile,
		},
		Timeout:    cfg.GetRequestTimeout(),
		DeviceType: cfg.Cloud.DeviceType,
		Logger:     log.With("component", "cloud"),
	})
	if err != nil {
		return fmt.Errorf("creating cloud client: %w", err)
	}

	gw, err := gateway.New(gateway.Options{
		Cloud:               cloudClient,
		Registry:            registry,
		PollInterval:        cfg.GetPollInterval(),
		RequestTimeout:      cfg.GetRequestTimeout(),
		FailureThreshold:    cfg.Polling.FailureThreshold,
		ReconcileTimeout:    cfg.GetReconcileTimeout(),
		RediscoveryInterval: cfg.GetRediscoveryInterval(),
		Logger:              log.With("component", "gateway"),
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	// Command journal (optional)
	var journal api.CommandLog
	if cfg.Journal.Enabled {
		j := audit.NewJournal(audit.NewSQLiteRepository(db.DB), audit.JournalOptions{
			Retention: cfg.GetJournalRetention(),
			Logger:    log.With("component", "journal"),
		})
		j.Start()
		defer j.Stop()
		unsubscribe := gw.Subscribe(j.HandleEvent)
		defer unsubscribe()
		journal = j
		log.Info("command journal enabled", "retention_days", cfg.Journal.Retention)
	}

	topics := mqtt.NewTopics(cfg.HomeAssistant.TopicPrefix)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	var publisher gateway.HealthPublisher
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, topics)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		publisher = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	health := gateway.NewHealthReporter(gateway.HealthReporterConfig{
		Topic:     topics.BridgeHealth(),
		Version:   version,
		Interval:  time.Duration(cfg.HomeAssistant.HealthInterval) * time.Second,
		Publisher: publisher,
		Source:    gw,
	})
	health.SetLogger(log.With("component", "health"))
	defer health.Stop()

	// Home Assistant adapter (subscribed before the gateway starts so no
	// event is missed; announced after discovery)
	var adapter *homeassistant.Adapter
	if cfg.HomeAssistant.Enabled && mqttClient != nil {
		adapter, err = homeassistant.New(homeassistant.Options{
			MQTT:            mqttClient,
			Gateway:         gw,
			Topics:          topics,
			DiscoveryPrefix: cfg.HomeAssistant.DiscoveryPrefix,
			RawSensors:      cfg.HomeAssistant.RawSensors,
			QoS:             byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2
			CommandTimeout:  cfg.GetRequestTimeout() + 5*time.Second,
			Logger:          log.With("component", "homeassistant"),
		})
		if err != nil {
			return fmt.Errorf("creating Home Assistant adapter: %w", err)
		}
		defer adapter.Stop()
		unsubscribe := gw.Subscribe(adapter.HandleEvent)
		defer unsubscribe()
	}

	// Start the gateway: warm load, discovery, one poller per heater
	if startErr := gw.Start(ctx); startErr != nil {
		gw.Stop()
		if cloud.IsAuth(startErr) {
			return fmt.Errorf("starting gateway: cloud credentials rejected, refresh the access token: %w", startErr)
		}
		return fmt.Errorf("starting gateway: %w", startErr)
	}
	defer gw.Stop()
	log.Info("gateway started", "devices", len(gw.Devices()))

	if adapter != nil {
		if startErr := adapter.Start(); startErr != nil {
			return fmt.Errorf("starting Home Assistant adapter: %w", startErr)
		}
	}
	if mqttClient != nil {
		health.Start(ctx)
	}

	// Local API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.With("component", "api"),
			Gateway: gw,
			Health:  health,
			Journal: journal,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if apiErr := server.Start(ctx); apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API, gateway, HA adapter, health reporter, MQTT, journal, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses AILINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AILINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// issueToken prints a signed API token for opts.issueToken.
func issueToken(cfg *config.Config, opts options, out io.Writer) error {
	ttl := time.Duration(cfg.API.Auth.TokenTTL) * time.Minute
	token, err := auth.GenerateToken(opts.issueToken, auth.Role(opts.role), cfg.API.Auth.JWTSecret, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// healthCheck verifies infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	return nil
}
