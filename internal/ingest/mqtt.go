// Package ingest receives order events from the outside world and feeds
// them into the alert engine.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/ordersentry/ordersentry/internal/alert"
	"github.com/ordersentry/ordersentry/internal/conf"
	"github.com/ordersentry/ordersentry/internal/errors"
	"github.com/ordersentry/ordersentry/internal/logging"
)

const (
	connectTimeout = 30 * time.Second
	qosAtLeastOnce = 1
)

// orderMessage is the wire shape of a new-order event on the MQTT topic.
type orderMessage struct {
	OrderID      string  `json:"order_id"`
	OrderNumber  string  `json:"order_number"`
	CustomerName string  `json:"customer_name"`
	Amount       float64 `json:"amount"`
	CreatedAt    string  `json:"created_at"` // RFC3339, optional
}

// MQTTSource subscribes to the order topic and dispatches an alert for every
// incoming event. Paho's auto-reconnect handles broker outages; the
// subscription is re-established in the OnConnect handler.
type MQTTSource struct {
	settings   conf.MQTTSettings
	dispatcher *alert.Dispatcher
	client     mqtt.Client
	logger     *slog.Logger
}

// NewMQTTSource creates an MQTT order event source.
func NewMQTTSource(settings conf.MQTTSettings, dispatcher *alert.Dispatcher) *MQTTSource {
	return &MQTTSource{
		settings:   settings,
		dispatcher: dispatcher,
		logger:     logging.ForService("ingest"),
	}
}

// Start connects to the broker and subscribes to the order topic.
func (s *MQTTSource) Start(ctx context.Context) error {
	if !s.settings.Enabled {
		return nil
	}
	if s.settings.Broker == "" || s.settings.Topic == "" {
		return errors.Newf("mqtt enabled but broker or topic missing").
			Component("ingest").
			Category(errors.CategoryConfiguration).
			Build()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(s.settings.Broker).
		SetClientID(clientID()).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)
	if s.settings.Username != "" {
		opts.SetUsername(s.settings.Username)
		opts.SetPassword(s.settings.Password)
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("ingest").
			Category(errors.CategoryMQTT).
			Context("broker", s.settings.Broker).
			Build()
	}
	return nil
}

// Stop disconnects from the broker.
func (s *MQTTSource) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

// IsConnected reports broker connectivity.
func (s *MQTTSource) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

func (s *MQTTSource) onConnect(client mqtt.Client) {
	s.logger.Info("connected to mqtt broker", "broker", s.settings.Broker)

	// Re-subscribe on every (re)connect; subscriptions do not survive a
	// clean-session reconnect.
	token := client.Subscribe(s.settings.Topic, qosAtLeastOnce, s.onMessage)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error("mqtt subscribe failed",
				"topic", s.settings.Topic,
				"error", err)
			return
		}
		s.logger.Info("subscribed to order topic", "topic", s.settings.Topic)
	}()
}

func (s *MQTTSource) onConnectionLost(_ mqtt.Client, err error) {
	s.logger.Warn("mqtt connection lost, auto-reconnect active",
		"broker", s.settings.Broker,
		"error", err)
}

// onMessage decodes one order event and runs the dispatch pipeline. A bad
// message is logged and dropped; it never stops the subscription.
func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ev, err := decodeOrderEvent(msg.Payload())
	if err != nil {
		s.logger.Warn("dropping malformed order message",
			"topic", msg.Topic(),
			"error", err)
		return
	}

	if _, err := s.dispatcher.Send(context.Background(), ev); err != nil {
		s.logger.Error("alert dispatch from mqtt event failed",
			"order_id", ev.OrderID,
			"error", err)
	}
}

// decodeOrderEvent parses the JSON wire form into an OrderEvent.
func decodeOrderEvent(payload []byte) (alert.OrderEvent, error) {
	var msg orderMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return alert.OrderEvent{}, errors.New(err).
			Component("ingest").
			Category(errors.CategoryValidation).
			Context("operation", "decode_order_event").
			Build()
	}

	ev := alert.OrderEvent{
		OrderID:      msg.OrderID,
		OrderNumber:  msg.OrderNumber,
		CustomerName: msg.CustomerName,
		Amount:       msg.Amount,
	}
	if msg.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, msg.CreatedAt); err == nil {
			ev.CreatedAt = ts
		}
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if err := ev.Validate(); err != nil {
		return alert.OrderEvent{}, err
	}
	return ev, nil
}

// clientID derives a broker client id from the instance name plus a random
// suffix, so two instances sharing a config never evict each other.
func clientID() string {
	name := "ordersentry"
	if s := conf.Setting(); s != nil && s.Main.Name != "" {
		name = s.Main.Name
	}
	return name + "-" + uuid.NewString()[:8]
}
