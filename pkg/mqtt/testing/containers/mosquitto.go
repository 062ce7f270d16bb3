// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package containers

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/cobaltcore-dev/conductor/pkg/conf"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ory/dockertest"
	"github.com/ory/dockertest/docker"
)

// StartMosquitto runs an anonymous mosquitto broker for the duration of the
// test and returns the config to connect to it.
func StartMosquitto(t *testing.T) conf.MQTTConfig {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("could not construct pool: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Fatalf("could not connect to docker: %v", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "eclipse-mosquitto",
		Tag:        "2",
		Cmd:        []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("could not start mosquitto: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Errorf("could not purge mosquitto: %v", err)
		}
	})
	if err := resource.Expire(120); err != nil {
		t.Fatalf("could not set expiration: %v", err)
	}

	config := conf.MQTTConfig{
		URL:       "tcp://localhost:" + resource.GetPort("1883/tcp"),
		Reconnect: conf.MQTTReconnectConfig{MaxRetries: 3, RetryIntervalSeconds: 1},
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.URL)
	opts.SetConnectTimeout(60 * time.Second)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Second)
	//nolint:gosec // We don't care if the client id is cryptographically secure.
	opts.SetClientID(fmt.Sprintf("conductor-runup-%d", rand.Intn(1_000_000)))
	client := mqtt.NewClient(opts)
	if conn := client.Connect(); conn.Wait() && conn.Error() != nil {
		t.Fatalf("mosquitto is not ready in time: %v", conn.Error())
	}
	client.Disconnect(100)
	t.Logf("mosquitto ready at %s", config.URL)
	return config
}
