// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/cobaltcore-dev/conductor/pkg/conf"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sapcc/go-bits/jobloop"
)

type Client interface {
	Connect() error
	Publish(topic string, obj any) error
	Disconnect()
}

type client struct {
	conf conf.MQTTConfig
	// MQTT client to publish mqtt data.
	client mqtt.Client
	// Lock to prevent concurrent writes to the MQTT client.
	lock *sync.Mutex
	// Optional monitor, nil if not monitored.
	monitor *Monitor
}

func NewClientWithConfig(conf conf.MQTTConfig) Client {
	return &client{conf: conf, lock: &sync.Mutex{}}
}

func NewMonitoredClient(conf conf.MQTTConfig, monitor Monitor) Client {
	return &client{conf: conf, lock: &sync.Mutex{}, monitor: &monitor}
}

// Connect to the mqtt broker, retrying as configured.
func (t *client) Connect() error {
	if t.client != nil {
		return nil
	}
	slog.Info("connecting to mqtt broker", "url", t.conf.URL)
	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.conf.URL)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Error("lost connection to mqtt broker", "err", err)
	})
	//nolint:gosec // We don't care if the client id is cryptographically secure.
	opts.SetClientID(fmt.Sprintf("conductor-%d", rand.Intn(1_000_000)))
	opts.SetOrderMatters(false)
	opts.SetProtocolVersion(4)
	opts.SetDefaultPublishHandler(func(client mqtt.Client, msg mqtt.Message) {
		slog.Warn("received unexpected message on topic", "topic", msg.Topic())
	})
	opts.SetUsername(t.conf.Username)
	opts.SetPassword(t.conf.Password)

	maxRetries := max(t.conf.Reconnect.MaxRetries, 1)
	retryInterval := time.Duration(max(t.conf.Reconnect.RetryIntervalSeconds, 1)) * time.Second
	var err error
	for i := range maxRetries {
		if t.monitor != nil {
			t.monitor.connectionAttempts.Inc()
		}
		c := mqtt.NewClient(opts)
		token := c.Connect()
		if token.Wait() && token.Error() == nil {
			t.client = c
			slog.Info("connected to mqtt broker")
			return nil
		}
		err = token.Error()
		if i < maxRetries-1 {
			slog.Error("failed to connect to mqtt broker, retrying...", "err", err)
			time.Sleep(jobloop.DefaultJitter(retryInterval))
		}
	}
	return fmt.Errorf("giving up connecting to mqtt broker: %w", err)
}

// Publish the json encoding of obj on the given topic.
func (t *client) Publish(topic string, obj any) error {
	err := t.publish(topic, obj)
	if t.monitor != nil {
		result := "success"
		if err != nil {
			result = "error"
		}
		t.monitor.publishes.WithLabelValues(topic, result).Inc()
	}
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	slog.Debug("published mqtt data", "topic", topic)
	return nil
}

func (t *client) publish(topic string, obj any) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	// Connect if we aren't already.
	if err := t.Connect(); err != nil {
		return err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	pub := t.client.Publish(topic, 2, false, data)
	if pub.Wait() && pub.Error() != nil {
		return pub.Error()
	}
	return nil
}

// Disconnect from the mqtt broker.
func (t *client) Disconnect() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.client == nil {
		return
	}
	c := t.client
	t.client = nil
	c.Disconnect(1000)
	slog.Info("disconnected from mqtt broker")
}
