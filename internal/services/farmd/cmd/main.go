package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/LeonardoBeccarini/smartfarm/internal/config"
	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
	"github.com/LeonardoBeccarini/smartfarm/internal/metrics"
	"github.com/LeonardoBeccarini/smartfarm/internal/services/classifier"
	"github.com/LeonardoBeccarini/smartfarm/internal/services/device"
	"github.com/LeonardoBeccarini/smartfarm/internal/services/inspection"
	"github.com/LeonardoBeccarini/smartfarm/internal/services/notification"
	"github.com/LeonardoBeccarini/smartfarm/internal/services/ops"
	"github.com/LeonardoBeccarini/smartfarm/internal/services/persistence"
	"github.com/LeonardoBeccarini/smartfarm/internal/services/telemetry"
	"github.com/LeonardoBeccarini/smartfarm/internal/services/weather"
	"github.com/LeonardoBeccarini/smartfarm/internal/upstream"
	"github.com/LeonardoBeccarini/smartfarm/pkg/broker"
	"github.com/LeonardoBeccarini/smartfarm/pkg/dedup"
)

const (
	breakerFailures = 5
	breakerOpenFor  = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ./config.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New(logger.ErrorLevel).Fatalw("load config", "err", err)
	}
	log := logger.New(cfg.LogLevel).Named("farmd")
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// === Persistence ===
	if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
		log.Fatalw("create data dir", "err", err)
	}
	db, err := persistence.OpenSQLite(cfg.SQLite.Path)
	if err != nil {
		log.Fatalw("open sqlite", "err", err)
	}
	defer db.Close()
	repo := persistence.NewSQLRepository(db)
	sinks := persistence.MultiSink{repo}

	var (
		influxClient influxdb2.Client
		influxSink   *persistence.InfluxSink
		envSummary   inspection.EnvironmentSummarizer
	)
	if cfg.InfluxEnabled() {
		influxClient = influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		defer influxClient.Close()
		influxSink = persistence.NewInfluxSink(influxClient.WriteAPIBlocking(cfg.Influx.Org, cfg.Influx.Bucket), cfg.Influx.LocationTag, log)
		sinks = append(sinks, influxSink)
		envSummary = persistence.NewInfluxSummarizer(influxClient.QueryAPI(cfg.Influx.Org), cfg.Influx.Bucket,
			cfg.Influx.LocationTag, cfg.Influx.SummaryLookback)
	} else {
		log.Warnw("influx not configured, records go to sqlite only and reports carry no environment summary")
	}

	// === MQTT ===
	var (
		mqttClient mqtt.Client
		store      = telemetry.NewReadingStore()
	)
	needsBroker := cfg.Telemetry.Enabled || (cfg.Inspection.Enabled && cfg.Inspection.RebootFirst)
	if needsBroker {
		var subs []broker.Subscriber
		if cfg.Telemetry.Enabled {
			ingestor := telemetry.NewIngestor(store, dedup.New(2*time.Minute, 10000), log, m)
			subs = append(subs, broker.NewConsumer(cfg.MQTT.DataTopic, 1, ingestor.Handle, log))
		}
		mqttClient, err = broker.Connect(ctx, &broker.Config{
			Host:       cfg.MQTT.Broker,
			Port:       cfg.MQTT.Port,
			TLS:        cfg.MQTT.TLS,
			User:       cfg.MQTT.Username,
			Password:   cfg.MQTT.Password,
			ClientID:   cfg.MQTT.ClientID,
			MaxRetries: cfg.MQTT.ConnectRetries,
		}, log, subs...)
		if err != nil {
			log.Fatalw("mqtt connection", "err", err)
		}
		defer broker.Close(mqttClient)
	}

	var wg sync.WaitGroup

	// === Telemetry ===
	if cfg.Telemetry.Enabled {
		orch, err := telemetry.NewOrchestrator(telemetry.Config{
			Rotation:             cfg.Telemetry.Rotation,
			Stabilization:        cfg.Telemetry.Stabilization,
			Required:             cfg.Telemetry.Required,
			PublishRetries:       cfg.Telemetry.PublishRetries,
			PublishRetryInterval: cfg.Telemetry.PublishRetryInterval,
			ErrorBackoff:         cfg.Telemetry.ErrorBackoff,
		}, store, broker.NewPublisher(mqttClient, cfg.MQTT.CommandTopic, 1), sinks, log, m)
		if err != nil {
			log.Fatalw("telemetry setup", "err", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = orch.Run(ctx)
		}()
	}

	// === Inspection ===
	weatherClient := weather.NewClient(
		upstream.New("weather", cfg.Weather.BaseURL, cfg.Weather.Timeout,
			upstream.NewBreaker("weather", breakerFailures, breakerOpenFor, log)),
		cfg.Weather.Latitude, cfg.Weather.Longitude, cfg.Location)

	scheduler := inspection.NewScheduler(cfg.Location, log)
	var inspector ops.Inspector
	if cfg.Inspection.Enabled {
		orch := buildInspection(cfg, log, m, mqttClient, sinks, envSummary, weatherClient)
		inspector = orch
		if err := scheduler.ScheduleInspections(ctx, orch, cfg.Inspection.Schedule); err != nil {
			log.Fatalw("schedule inspections", "err", err)
		}
	}
	if cfg.Inspection.WeatherLogAt != "" {
		if err := scheduler.ScheduleWeatherLog(ctx, cfg.Inspection.WeatherLogAt, weatherClient, repo); err != nil {
			log.Fatalw("schedule weather log", "err", err)
		}
	}
	scheduler.Start()

	// === Ops ===
	if cfg.LogLevel != logger.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	health := ops.NewHealthChecker(mqttClient, influxClient, influxSink, 30*time.Second)
	handler := ops.NewHandler(ctx, health, inspector, repo, reg, log)
	hs := &http.Server{
		Addr:              cfg.Ops.HTTPAddr,
		Handler:           handler.InitRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infow("http listening", "addr", cfg.Ops.HTTPAddr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("http server", "err", err)
			stop()
		}
	}()

	reporter := ops.NewHealthReporter(health, cfg.Telemetry.Enabled, cfg.Inspection.Enabled)
	wg.Add(2)
	go func() {
		defer wg.Done()
		reporter.Run(ctx, 15*time.Second)
	}()
	go func() {
		defer wg.Done()
		if err := ops.ServeGRPC(ctx, cfg.Ops.GRPCAddr, reporter.Server(), log); err != nil {
			log.Errorw("grpc server", "err", err)
		}
	}()

	log.Infow("farmd started", "telemetry", cfg.Telemetry.Enabled, "inspection", cfg.Inspection.Enabled,
		"tz", cfg.Location.String())
	<-ctx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = hs.Shutdown(shutdownCtx)
	<-scheduler.Stop().Done()
	wg.Wait()
}

func buildInspection(cfg *config.Config, log *logger.Logger, m *metrics.Metrics, mqttClient mqtt.Client,
	sink persistence.Sink, envSummary inspection.EnvironmentSummarizer, weatherClient *weather.Client) *inspection.Orchestrator {
	robot := device.NewRobotClient(upstream.New("robot", cfg.Robot.BaseURL, cfg.Robot.Timeout,
		upstream.NewBreaker("robot", breakerFailures, breakerOpenFor, log)))

	var rebooter device.Rebooter
	if cfg.Inspection.RebootFirst {
		rebooter = device.NewMQTTRebooter(broker.NewPublisher(mqttClient, cfg.MQTT.DeviceTopic, 1), cfg.Device.AckTimeout)
	}
	var shutdowner device.Shutdowner
	if cfg.Inspection.ShutdownEnabled {
		ssh, err := device.NewSSHShutdowner(device.SSHConfig{
			Host:           cfg.Device.SSHHost,
			Port:           cfg.Device.SSHPort,
			User:           cfg.Device.SSHUser,
			Password:       cfg.Device.SSHPassword,
			KnownHostsPath: cfg.Device.KnownHostsPath,
			Timeout:        cfg.Device.SSHTimeout,
		}, log)
		if err != nil {
			log.Fatalw("ssh shutdown setup", "err", err)
		}
		shutdowner = ssh
	}
	controller := device.NewController(robot, rebooter, shutdowner, cfg.Inspection.ImageDir, cfg.Inspection.SettleDelay, log)

	detector := classifier.NewHTTPDetector(upstream.New("detector", cfg.Classifier.DetectorURL, cfg.Classifier.Timeout,
		upstream.NewBreaker("detector", breakerFailures, breakerOpenFor, log)), "", cfg.Classifier.MinConfidence)
	kindwise := classifier.NewKindwiseClient(upstream.New("kindwise", cfg.Kindwise.BaseURL, cfg.Kindwise.Timeout,
		upstream.NewBreaker("kindwise", breakerFailures, breakerOpenFor, log)).WithHeader("Api-Key", cfg.Kindwise.APIKey))
	cascade := classifier.NewCascade(detector, kindwise, cfg.Kindwise.Timeout, log)

	dispatcher := notification.NewDispatcher(notification.Config{
		SlotPath:     cfg.Notification.SlotPath,
		Grace:        cfg.Notification.Grace,
		PollInterval: cfg.Notification.PollInterval,
		Pacing:       cfg.Notification.Pacing,
	}, log, m)

	orch, err := inspection.NewOrchestrator(inspection.Config{
		FarmName:        cfg.Inspection.FarmName,
		PlantIDs:        cfg.Inspection.PlantIDs,
		RebootFirst:     cfg.Inspection.RebootFirst,
		BootGrace:       cfg.Inspection.BootGrace,
		InterPlantDelay: cfg.Inspection.InterPlantDelay,
		HomingDelay:     cfg.Inspection.HomingDelay,
		ShutdownEnabled: cfg.Inspection.ShutdownEnabled,
		ShutdownDelay:   cfg.Inspection.ShutdownDelay,
		Recipients:      cfg.Notification.Recipients,
		Location:        cfg.Location,
	}, inspection.Deps{
		Device:      controller,
		Evaluator:   cascade,
		Sink:        sink,
		Environment: envSummary,
		Weather:     weatherClient,
		Notifier:    dispatcher,
	}, log, m)
	if err != nil {
		log.Fatalw("inspection setup", "err", err)
	}
	return orch
}
