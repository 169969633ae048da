package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeonardoBeccarini/smartfarm/internal/config"
	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
	sensorSimulator "github.com/LeonardoBeccarini/smartfarm/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/smartfarm/pkg/broker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	clientID := flag.String("client-id", "smartfarm-sensor-sim", "MQTT client ID")
	delay := flag.Duration("delay", 3*time.Second, "delay before answering a command")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New(logger.ErrorLevel).Fatalw("config", "err", err)
	}
	log := logger.New(cfg.LogLevel).Named("sensor-sim")
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer := broker.NewConsumer(cfg.MQTT.CommandTopic, 1, nil, log)
	client, err := broker.Connect(ctx, &broker.Config{
		Host:       cfg.MQTT.Broker,
		Port:       cfg.MQTT.Port,
		TLS:        cfg.MQTT.TLS,
		User:       cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
		ClientID:   *clientID,
		MaxRetries: cfg.MQTT.ConnectRetries,
	}, log, consumer)
	if err != nil {
		log.Fatalw("mqtt connect", "err", err)
	}
	defer broker.Close(client)

	publisher := broker.NewPublisher(client, cfg.MQTT.DataTopic, 1)
	sim := sensorSimulator.NewSensorSimulator(publisher, sensorSimulator.NewDataGenerator(*seed), *delay, log)
	consumer.SetHandler(sim.HandleCommand)

	log.Infow("sensor simulator running", "commands", cfg.MQTT.CommandTopic, "data", cfg.MQTT.DataTopic)
	sim.Run(ctx)
}
