// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"encoding/json"
	"io"
	"os"
)

// Configuration for structured logging.
type LoggingConfig struct {
	// The log level to use (debug, info, warn, error).
	LevelStr string `json:"level"`
	// The log format to use (json, text).
	Format string `json:"format"`
}

type DBReconnectConfig struct {
	// The interval between liveness pings to the database.
	LivenessPingIntervalSeconds int `json:"livenessPingIntervalSeconds"`
	// The interval between reconnection attempts on connection loss.
	RetryIntervalSeconds int `json:"retryIntervalSeconds"`
	// The maximum number of reconnection attempts on connection loss before panic.
	MaxRetries int `json:"maxRetries"`
}

// Database configuration.
type DBConfig struct {
	Host      string            `json:"host"`
	Port      int               `json:"port"`
	Database  string            `json:"database"`
	User      string            `json:"user"`
	Password  string            `json:"password"`
	Reconnect DBReconnectConfig `json:"reconnect"`
}

// Configuration for the monitoring module.
type MonitoringConfig struct {
	// The labels to add to all metrics.
	Labels map[string]string `json:"labels"`

	// The port to expose the metrics on.
	Port int `json:"port"`
}

type MQTTReconnectConfig struct {
	// The interval between reconnection attempts on connection loss.
	RetryIntervalSeconds int `json:"retryIntervalSeconds"`

	// The maximum number of reconnection attempts on connection loss before panic.
	MaxRetries int `json:"maxRetries"`
}

// Configuration for the mqtt client.
type MQTTConfig struct {
	// The URL of the MQTT broker to use for mqtt.
	URL string `json:"url"`
	// Credentials for the MQTT broker.
	Username  string              `json:"username"`
	Password  string              `json:"password"`
	Reconnect MQTTReconnectConfig `json:"reconnect"`
}

// Configuration for the api port.
type APIConfig struct {
	// The port to expose the API on.
	Port int `json:"port"`
}

// Configuration for the keystone authentication.
type KeystoneConfig struct {
	// The URL of the keystone service.
	URL string `json:"url"`
	// Availability of the keystone service, such as "public", "internal", or "admin".
	Availability string `json:"availability"`
	// The OpenStack username (OS_USERNAME in openstack cli).
	OSUsername string `json:"username"`
	// The OpenStack password (OS_PASSWORD in openstack cli).
	OSPassword string `json:"password"`
	// The OpenStack project name (OS_PROJECT_NAME in openstack cli).
	OSProjectName string `json:"projectName"`
	// The OpenStack user domain name (OS_USER_DOMAIN_NAME in openstack cli).
	OSUserDomainName string `json:"userDomainName"`
	// The OpenStack project domain name (OS_PROJECT_DOMAIN_NAME in openstack cli).
	OSProjectDomainName string `json:"projectDomainName"`
}

// Settings for the circuit breaker guarding calls to a vim account.
type CircuitBreakerConfig struct {
	// Consecutive failures after which the breaker opens.
	MaxConsecutiveFailures uint32 `json:"maxConsecutiveFailures"`
	// Seconds the breaker stays open before letting a probe request through.
	OpenTimeoutSeconds int `json:"openTimeoutSeconds"`
	// Number of probe requests allowed while half-open.
	HalfOpenRequests uint32 `json:"halfOpenRequests"`
}

const VIMTypeOpenStack = "openstack"

// A vim account: one tenant/project on one compute infrastructure manager.
type VIMAccountConfig struct {
	// Unique id of the account. Scheduled actions are addressed to it.
	ID string `json:"id"`
	// Human readable name of the account.
	Name string `json:"name"`
	// The datacenter this account lives in.
	DatacenterID   string `json:"datacenterId"`
	DatacenterName string `json:"datacenterName"`
	// The type of the vim, currently only "openstack".
	Type string `json:"type"`

	Keystone KeystoneConfig `json:"keystone"`
	// Nova microversion to request, e.g. "2.53".
	ComputeMicroversion string `json:"computeMicroversion,omitempty"`

	// Availability zones usable for vm placement, in placement order.
	AvailabilityZones []string `json:"availabilityZones,omitempty"`
	// The pre-existing management network external networks bind to.
	ManagementNetworkID   string `json:"managementNetworkId,omitempty"`
	ManagementNetworkName string `json:"managementNetworkName,omitempty"`

	CircuitBreaker CircuitBreakerConfig `json:"circuitBreaker"`
}

// A wan account that can interconnect networks spread over datacenters.
type WANAccountConfig struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Ids of the datacenters this account can interconnect.
	Datacenters []string `json:"datacenters"`
}

// Configuration for the conductor service.
type Config struct {
	LoggingConfig    `json:"logging"`
	DBConfig         `json:"db"`
	MonitoringConfig `json:"monitoring"`
	MQTTConfig       `json:"mqtt"`
	APIConfig        `json:"api"`

	VIMAccounts []VIMAccountConfig `json:"vimAccounts"`
	WANAccounts []WANAccountConfig `json:"wanAccounts"`
}

const (
	defaultConfigPath  = "/etc/config/conf.json"
	defaultSecretsPath = "/etc/secrets/secrets.json"
)

// Create a new configuration from the default config json file.
//
// This will read two files:
//   - /etc/config/conf.json
//   - /etc/secrets/secrets.json
//
// The values read from secrets.json will override the values in conf.json.
// Both paths can be overridden with CONDUCTOR_CONFIG_PATH and
// CONDUCTOR_SECRETS_PATH.
func GetConfigOrDie[C any]() C {
	// Note: We need to read the config as a raw map first, to avoid golang
	// unmarshalling default values for the fields.

	// Read the base config from the configmap (not including secrets).
	cmConf, err := readRawConfig(pathFromEnv("CONDUCTOR_CONFIG_PATH", defaultConfigPath))
	if err != nil {
		panic(err)
	}
	// Read the secrets config from the kubernetes secret.
	secretConf, err := readRawConfig(pathFromEnv("CONDUCTOR_SECRETS_PATH", defaultSecretsPath))
	if err != nil {
		panic(err)
	}
	return newConfigFromMaps[C](cmConf, secretConf)
}

func pathFromEnv(key, fallback string) string {
	if p := os.Getenv(key); p != "" {
		return p
	}
	return fallback
}

func newConfigFromMaps[C any](base, override map[string]any) C {
	// Merge the base config with the override config.
	mergedConf := mergeMaps(base, override)
	// Marshal again, and then unmarshal into the config struct.
	mergedBytes, err := json.Marshal(mergedConf)
	if err != nil {
		panic(err)
	}
	var c C
	if err := json.Unmarshal(mergedBytes, &c); err != nil {
		panic(err)
	}
	return c
}

// Read the json as a map from the given file path.
func readRawConfig(filepath string) (map[string]any, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	bytes, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return readRawConfigFromBytes(bytes)
}

func readRawConfigFromBytes(data []byte) (map[string]any, error) {
	var conf map[string]any
	if err := json.Unmarshal(data, &conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// mergeMaps recursively overrides dst with src (in-place)
func mergeMaps(dst, src map[string]any) map[string]any {
	result := dst
	for k, v := range src {
		if v == nil {
			continue
		}
		if dstVal, ok := dst[k]; ok {
			dstMap, dstIsMap := dstVal.(map[string]any)
			srcMap, srcIsMap := v.(map[string]any)
			if dstIsMap && srcIsMap {
				result[k] = mergeMaps(dstMap, srcMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}
