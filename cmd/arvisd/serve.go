package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/arvis-core/migrations"

	"github.com/nerrad567/arvis-core/internal/api"
	"github.com/nerrad567/arvis-core/internal/arbiter"
	"github.com/nerrad567/arvis-core/internal/bus"
	"github.com/nerrad567/arvis-core/internal/capability"
	"github.com/nerrad567/arvis-core/internal/clock"
	"github.com/nerrad567/arvis-core/internal/dispatch"
	"github.com/nerrad567/arvis-core/internal/infrastructure/config"
	"github.com/nerrad567/arvis-core/internal/infrastructure/database"
	"github.com/nerrad567/arvis-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/arvis-core/internal/infrastructure/logging"
	"github.com/nerrad567/arvis-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/arvis-core/internal/infrastructure/tracing"
	"github.com/nerrad567/arvis-core/internal/ingest"
	"github.com/nerrad567/arvis-core/internal/outcome"
	"github.com/nerrad567/arvis-core/internal/pipeline"
	"github.com/nerrad567/arvis-core/internal/room"
	"github.com/nerrad567/arvis-core/internal/scene"
)

// shutdownTimeout bounds draining the dispatcher and the state announcer.
const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the decision core until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.configPath)
		},
	}
}

// run is the actual application logic, separated from main for testability.
// Components start in dependency order and stop in reverse via defers.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing a startup failure
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // Linear startup sequence
	log := logging.Default()
	log.Info("starting Arvis",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version).With("room", cfg.Room.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Tracing
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, "arvis", version)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutErr := shutdownTracing(sctx); shutErr != nil {
			log.Error("error flushing traces", "error", shutErr)
		}
	}()

	// Database
	db, err := database.Open(ctx, database.Config{
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

	health := map[string]api.HealthChecker{"database": db}
	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix, cfg.Room.ID)

	// MQTT (optional: commands are logged instead when disabled)
	var mqttClient *mqtt.Client
	var mqttView api.MQTTView
	var publisher capability.Publisher = capability.LogPublisher{Logger: log.Component("capability")}
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
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		publisher = mqttClient
		mqttView = mqttClient
		health["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled, actuator commands will be logged")
	}

	// InfluxDB (optional)
	var telemetry outcome.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		telemetry = influxClient
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Scenes
	scenes, err := scene.Load(cfg.Scenes.File)
	if err != nil {
		return fmt.Errorf("loading scenes: %w", err)
	}
	log.Info("scenes loaded", "source", scenes.Source(), "count", len(scenes.List()))

	// Event broker
	broker := bus.New(bus.Options{QueueSize: cfg.Broker.QueueSize, Logger: log.Component("bus")})
	defer func() {
		log.Info("closing event broker")
		broker.Close()
	}()

	recorder := outcome.NewRecorder(outcome.Options{
		RoomID:    cfg.Room.ID,
		Repo:      outcome.NewSQLiteRepository(db.DB),
		Telemetry: telemetry,
		Logger:    log.Component("outcome"),
	})
	broker.SetOnDrop(recorder.ObserveDrop)
	broker.SetOnError(func(sub string, ev bus.Event, err error) {
		log.Warn("event handler failed", "subscriber", sub, "type", ev.Type, "id", ev.ID, "error", err)
	})

	// State manager
	clk := clock.Real()
	manager := room.NewManager(room.Options{
		RoomID:    cfg.Room.ID,
		Initial:   room.Empty,
		Announcer: broker,
		Clock:     clk,
		Logger:    log.Component("room"),
	})
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		manager.Close(sctx)
	}()

	// Capabilities and dispatcher
	actuators := capability.NewActuators(publisher, topics)
	registry, err := dispatch.NewRegistry(capability.Capabilities(actuators, manager)...)
	if err != nil {
		return fmt.Errorf("building capability registry: %w", err)
	}

	hub := api.NewHub(cfg.API.WebSocket, log.Component("ws"))
	dispatcher, err := dispatch.New(registry, dispatch.Options{
		MaxInFlight:      cfg.Dispatcher.MaxInFlight,
		HandlerTimeout:   cfg.Dispatcher.HandlerTimeout,
		RetryDelay:       cfg.Dispatcher.RetryDelay,
		BreakerThreshold: cfg.Dispatcher.BreakerThreshold,
		BreakerWindow:    cfg.Dispatcher.BreakerWindow,
		BreakerCooldown:  cfg.Dispatcher.BreakerCooldown,
		Clock:            clk,
		Logger:           log.Component("dispatch"),
		Recorder: dispatch.RecorderFunc(func(ctx context.Context, o dispatch.Outcome) {
			recorder.Record(ctx, o)
			hub.Broadcast(api.ChannelOutcome, o)
		}),
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := dispatcher.Close(sctx); closeErr != nil {
			log.Warn("dispatcher did not drain", "error", closeErr)
		}
	}()
	log.Info("dispatcher ready", "actions", registry.Actions())

	// Arbitration router and pipeline
	router, err := arbiter.New(arbiter.Options{
		Config: arbiter.Config{
			Occupant:             cfg.Room.Occupant,
			SleepDwell:           cfg.Router.SleepDwell,
			EntryDwell:           cfg.Router.EntryDwell,
			VacancyMinutes:       float64(cfg.Router.VacancyMinutes),
			SleepMotionThreshold: cfg.Router.SleepMotionThreshold,
			MinVoiceConfidence:   cfg.Router.MinVoiceConfidence,
			Devices:              cfg.Router.Devices,
		},
		State:   manager,
		Scenes:  scenes,
		Emitter: broker,
		Clock:   clk,
		Logger:  log.Component("arbiter"),
	})
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}
	defer func() {
		log.Info("stopping debounce windows")
		router.Close()
	}()

	engine, err := pipeline.New(pipeline.Options{
		Router:      router,
		Dispatcher:  dispatcher,
		State:       manager,
		Broadcaster: hub,
		Logger:      log.Component("pipeline"),
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	if err := subscribeAll(broker, engine, recorder, hub); err != nil {
		return err
	}

	// Ingress
	if mqttClient != nil {
		bridge := ingest.New(ingest.Options{
			Topics:    topics,
			QoS:       byte(cfg.MQTT.QoS), //nolint:gosec // QoS validated to 0-2
			Broker:    broker,
			Publisher: mqttClient,
			Logger:    log.Component("ingest"),
		})
		if startErr := bridge.Start(mqttClient); startErr != nil {
			return fmt.Errorf("starting signal ingress: %w", startErr)
		}
		if _, subErr := broker.Subscribe("*", bridge.Mirror(), bus.WithName("mirror")); subErr != nil {
			return fmt.Errorf("subscribing event mirror: %w", subErr)
		}
		log.Info("signal ingress started", "topic", topics.AllSignals())
	}

	// Debug API
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log.Component("api"),
			RoomID:     cfg.Room.ID,
			Engine:     engine,
			Room:       manager,
			Router:     router,
			Dispatcher: dispatcher,
			Broker:     broker,
			MQTT:       mqttView,
			Scenes:     scenes,
			Outcomes:   outcome.NewSQLiteRepository(db.DB),
			Health:     health,
			Hub:        hub,
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("debug API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal", "state", manager.State())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// subscribeAll attaches the in-process consumers to the broker: the
// routing pipeline, transition telemetry and the live state stream.
func subscribeAll(broker *bus.Broker, engine *pipeline.Engine, recorder *outcome.Recorder, hub *api.Hub) error {
	if _, err := broker.Subscribe("*", engine.Handle, bus.WithName("pipeline")); err != nil {
		return fmt.Errorf("subscribing pipeline: %w", err)
	}
	if _, err := broker.Subscribe(bus.TypeStateChanged, recorder.ObserveTransitions(), bus.WithName("telemetry")); err != nil {
		return fmt.Errorf("subscribing telemetry: %w", err)
	}
	_, err := broker.Subscribe(bus.TypeStateChanged, func(_ context.Context, ev bus.Event) error {
		hub.Broadcast(api.ChannelState, ev)
		return nil
	}, bus.WithName("state-stream"))
	if err != nil {
		return fmt.Errorf("subscribing state stream: %w", err)
	}
	return nil
}
