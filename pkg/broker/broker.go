package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
)

type Config struct {
	Host       string
	Port       int
	TLS        bool
	User       string
	Password   string
	ClientID   string
	MaxRetries int
}

// Subscriber is (re)subscribed every time the connection is established.
type Subscriber interface {
	Subscribe(client mqtt.Client) error
	Topic() string
}

func brokerURL(cfg *Config) string {
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)
}

// Connect dials the broker with exponential backoff. Subscriptions are restored on every
// reconnect through the OnConnect handler, since sessions are clean.
func Connect(ctx context.Context, cfg *Config, log *logger.Logger, subs ...Subscriber) (mqtt.Client, error) {
	log = log.Named("mqtt")
	connAddr := brokerURL(cfg)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Infow("connected", "broker", connAddr)
		for _, s := range subs {
			if err := s.Subscribe(c); err != nil {
				log.Errorw("subscribe failed", "topic", s.Topic(), "err", err)
				continue
			}
			log.Infow("subscribed", "topic", s.Topic())
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnw("connection lost", "err", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Infow("reconnecting", "broker", connAddr)
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = time.Minute
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		token := client.Connect()
		if !token.WaitTimeout(15 * time.Second) {
			return fmt.Errorf("connect to %s timed out", connAddr)
		}
		if err := token.Error(); err != nil {
			log.Warnw("connect failed", "broker", connAddr, "err", err)
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	go func() {
		<-ctx.Done()
		Close(client)
		log.Infow("connection closed")
	}()

	return client, nil
}

// Close disconnects the client if it is still connected.
func Close(client mqtt.Client) {
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
}
