// go2wb publishes virtual devices onto a Wiren Board MQTT broker and keeps a
// live registry of every control value it sees.
//
// Virtual devices and value links are declared in the config file. Observed
// values can be journaled to SQLite, exported to InfluxDB and inspected
// through a small HTTP/WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/aadegtyarev/go2wb/migrations"

	"github.com/aadegtyarev/go2wb/internal/api"
	"github.com/aadegtyarev/go2wb/internal/infrastructure/config"
	"github.com/aadegtyarev/go2wb/internal/infrastructure/database"
	"github.com/aadegtyarev/go2wb/internal/infrastructure/influxdb"
	"github.com/aadegtyarev/go2wb/internal/infrastructure/logging"
	"github.com/aadegtyarev/go2wb/internal/infrastructure/mqtt"
	"github.com/aadegtyarev/go2wb/internal/journal"
	"github.com/aadegtyarev/go2wb/internal/wb"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	pruneInterval = time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the components and blocks in the session loop until ctx is
// cancelled. Deferred closes run in reverse order of start.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting go2wb",
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
	log.Info("configuration loaded",
		"path", configPath,
		"devices", len(cfg.Devices),
		"links", len(cfg.Links),
	)

	var (
		db  *database.DB
		jnl *journal.SQLiteJournal
	)
	if cfg.Database.Enabled {
		db, err = database.Open(database.ConfigFrom(cfg.Database))
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
		jnl = journal.New(db.DB)
		log.Info("journal enabled", "path", db.Path())
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
			log.Warn("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	// From here on the session owns the MQTT client and closes it.
	sess, err := wb.NewSession(&brokerAdapter{client: mqttClient}, sessionOptions(cfg, log))
	if err != nil {
		mqttClient.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("creating session: %w", err)
	}
	defer func() {
		log.Info("closing session")
		if closeErr := sess.Close(); closeErr != nil {
			log.Error("error closing session", "error", closeErr)
		}
	}()

	if jnl != nil {
		sess.AddObserver(jnl.Observer(ctx, log))
	}
	if influxClient != nil {
		sess.AddObserver(influxClient.Observer())
	}

	if cfg.API.Enabled {
		srv, apiErr := startAPI(ctx, cfg, log, sess, mqttClient, db, jnl)
		if apiErr != nil {
			return apiErr
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := bindLinks(sess, cfg.Links, log); err != nil {
		return err
	}

	// The base subscription is already replaying retained topics; dispatch
	// them while the slower setup below runs.
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	if err := declareDevices(sess, cfg.Devices); err != nil {
		return err
	}

	if jnl != nil && cfg.Database.Retention > 0 {
		go pruneLoop(ctx, jnl, cfg.GetRetention(), log)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, dispatching messages")
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("session loop: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns GO2WB_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("GO2WB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func sessionOptions(cfg *config.Config, log *logging.Logger) wb.Options {
	return wb.Options{
		DriverName: cfg.Driver.Name,
		// #nosec G115 -- QoS validated to 0..2 by config.Validate
		PublishQoS: byte(cfg.MQTT.QoS),
		// #nosec G115 -- QoS validated to 0..2 by config.Validate
		SubscribeQoS: byte(cfg.MQTT.SubscribeQoS),
		BaseTopic:    cfg.MQTT.BaseTopic,
		Logger:       log.With("component", "wb"),
		Diagnostics: func(err error) {
			log.Debug("wb diagnostic", "error", err)
		},
	}
}

func startAPI(ctx context.Context, cfg *config.Config, log *logging.Logger, sess *wb.Session,
	mqttClient *mqtt.Client, db *database.DB, jnl *journal.SQLiteJournal) (*api.Server, error) {
	deps := api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.With("component", "api"),
		Session: sess,
		Broker:  mqttClient,
		Version: version,
	}
	// Typed nils would defeat the server's nil checks.
	if db != nil {
		deps.DB = db
	}
	if jnl != nil {
		deps.Journal = jnl
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	sess.AddObserver(srv.Observer())

	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return srv, nil
}

// healthCheck verifies the infrastructure connections. db and influxClient
// may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// pruneLoop trims the journal to the retention window once an hour.
func pruneLoop(ctx context.Context, jnl *journal.SQLiteJournal, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := jnl.Prune(ctx, retention)
		if err != nil {
			log.Warn("journal prune failed", "error", err)
		} else if n > 0 {
			log.Info("journal pruned", "rows", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
