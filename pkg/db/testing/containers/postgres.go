// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package containers

import (
	"database/sql"
	"strconv"
	"testing"

	"github.com/cobaltcore-dev/conductor/pkg/conf"
	_ "github.com/lib/pq"
	"github.com/ory/dockertest"
	"github.com/ory/dockertest/docker"
	"github.com/sapcc/go-bits/easypg"
)

const (
	postgresUser     = "conductor"
	postgresPassword = "secret"
	postgresDatabase = "conductor"
)

// StartPostgres runs a disposable postgres for the duration of the test and
// returns the config to connect to it. The container is purged on cleanup.
func StartPostgres(t *testing.T) conf.DBConfig {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("could not construct pool: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Fatalf("could not connect to docker: %v", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "17",
		Env: []string{
			"POSTGRES_USER=" + postgresUser,
			"POSTGRES_PASSWORD=" + postgresPassword,
			"POSTGRES_DB=" + postgresDatabase,
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("could not start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Errorf("could not purge postgres: %v", err)
		}
	})
	// Stuck test runs must not leave containers behind.
	if err := resource.Expire(120); err != nil {
		t.Fatalf("could not set expiration: %v", err)
	}

	port, err := strconv.Atoi(resource.GetPort("5432/tcp"))
	if err != nil {
		t.Fatalf("unexpected postgres port: %v", err)
	}
	config := conf.DBConfig{
		Host:     "localhost",
		Port:     port,
		Database: postgresDatabase,
		User:     postgresUser,
		Password: postgresPassword,
	}
	dbURL, err := URL(config)
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("could not open postgres: %v", err)
	}
	defer sqlDB.Close()
	if err := pool.Retry(sqlDB.Ping); err != nil {
		t.Fatalf("postgres is not ready in time: %v", err)
	}
	t.Logf("postgres container ready on port %d", port)
	return config
}

// URL of the database without tls.
func URL(c conf.DBConfig) (string, error) {
	u, err := easypg.URLFrom(easypg.URLParts{
		HostName:          c.Host,
		Port:              strconv.Itoa(c.Port),
		UserName:          c.User,
		Password:          c.Password,
		ConnectionOptions: "sslmode=disable",
		DatabaseName:      c.Database,
	})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
