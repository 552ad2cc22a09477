package notify

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"sajda/internal/config"
	"sajda/internal/errors"
	"sajda/internal/models"
)

const mqttWait = 5 * time.Second

// MQTTClient is the part of mqtt.Client the publisher needs.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// NewMQTTClient connects to the configured broker.
func NewMQTTClient(cfg config.MQTT, l zerolog.Logger) (mqtt.Client, error) {
	log := l.With().Str("component", "mqtt").Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("connected to MQTT broker")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttWait) {
		// ConnectRetry keeps trying in the background
		log.Warn().Str("broker", cfg.Broker).Msg("MQTT broker not reachable yet")
		return client, nil
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, "connect to MQTT broker")
	}
	return client, nil
}

// MQTTPublisher mirrors triggers and the countdown onto <prefix>/<kind>.
type MQTTPublisher struct {
	client MQTTClient
	prefix string
	log    zerolog.Logger
}

func NewMQTTPublisher(c MQTTClient, prefix string, l zerolog.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: c, prefix: prefix, log: l.With().Str("component", "mqtt").Logger()}
}

func (p *MQTTPublisher) Publish(ctx context.Context, ev models.Event) error {
	return p.send(ctx, p.prefix+"/"+string(ev.Kind), 1, false, ev)
}

// RunCountdown publishes every countdown update as a retained message until
// ctx ends.
func (p *MQTTPublisher) RunCountdown(ctx context.Context, updates <-chan models.Countdown) {
	for {
		select {
		case c := <-updates:
			if err := p.send(ctx, p.prefix+"/countdown", 0, true, c); err != nil {
				p.log.Debug().Err(err).Msg("countdown publish failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *MQTTPublisher) send(ctx context.Context, topic string, qos byte, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.WithStack(err)
	}
	token := p.client.Publish(topic, qos, retained, payload)
	select {
	case <-token.Done():
		return errors.Wrapf(token.Error(), "publish %s", topic)
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}
