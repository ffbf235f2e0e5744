package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dbackup/dbackup/internal/domain"
	"github.com/dbackup/dbackup/internal/infrastructure/logger"
)

const (
	mqttQoS         = 1
	mqttWaitTimeout = 5 * time.Second
)

// MQTTAdapter publishes pipeline events as JSON to an MQTT topic, for
// operators who wire dashboards or automations off a broker.
type MQTTAdapter struct {
	logger *logger.Logger
}

func NewMQTT(log *logger.Logger) *MQTTAdapter {
	return &MQTTAdapter{logger: log}
}

func (m *MQTTAdapter) ID() string { return "mqtt" }

func (m *MQTTAdapter) Validate(cfg domain.Settings) error {
	if cfg["broker_url"] == "" {
		return domain.NewConfigurationError("mqtt: broker_url is required")
	}
	if cfg["topic"] == "" {
		return domain.NewConfigurationError("mqtt: topic is required")
	}
	return nil
}

func (m *MQTTAdapter) Send(ctx context.Context, cfg domain.Settings, event domain.Event) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg["broker_url"])
	opts.SetUsername(cfg["username"])
	opts.SetPassword(cfg["password"])
	clientID := cfg["client_id"]
	if clientID == "" {
		clientID = "dbackup-" + event.ExecutionID
	}
	opts.SetClientID(clientID)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.logger.Warnf("mqtt connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(mqttWaitTimeout) || token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", tokenErr(token))
	}
	defer client.Disconnect(250)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := client.Publish(cfg["topic"], mqttQoS, false, payload)
	if !token.WaitTimeout(mqttWaitTimeout) || token.Error() != nil {
		return fmt.Errorf("failed to publish event: %w", tokenErr(token))
	}
	return nil
}

func tokenErr(token mqtt.Token) error {
	if err := token.Error(); err != nil {
		return err
	}
	return fmt.Errorf("timed out after %s", mqttWaitTimeout)
}
