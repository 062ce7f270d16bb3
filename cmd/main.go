// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/must"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cobaltcore-dev/conductor/internal/api"
	"github.com/cobaltcore-dev/conductor/internal/catalog"
	"github.com/cobaltcore-dev/conductor/internal/orchestrator"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/cobaltcore-dev/conductor/internal/vim/openstack"
	"github.com/cobaltcore-dev/conductor/internal/wan"
	"github.com/cobaltcore-dev/conductor/pkg/conf"
	"github.com/cobaltcore-dev/conductor/pkg/db"
	"github.com/cobaltcore-dev/conductor/pkg/monitoring"
	"github.com/cobaltcore-dev/conductor/pkg/mqtt"
)

// Run the prometheus metrics server for monitoring.
func runMonitoringServer(ctx context.Context, registry *monitoring.Registry, config conf.MonitoringConfig) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	slog.Info("metrics listening", "port", config.Port)
	addr := fmt.Sprintf(":%d", config.Port)
	if err := httpext.ListenAndServeContext(ctx, addr, mux); err != nil {
		panic(err)
	}
}

func main() {
	// If called with `--version`, report version and exit (the Dockerfile
	// uses this to check if the binary was built correctly)
	bininfo.HandleVersionArgument()

	config := conf.GetConfigOrDie[*conf.Config]()
	config.LoggingConfig.SetDefaultLogger()
	if err := config.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		panic(err)
	}

	// Set runtime concurrency to match CPU limit imposed by Kubernetes
	undoMaxprocs := must.Return(maxprocs.Set(maxprocs.Logger(slog.Debug)))
	defer undoMaxprocs()

	// Override User-Agent header for all requests made by this process,
	// including the ones sent to the vim accounts.
	wrap := httpext.WrapTransport(&http.DefaultTransport)
	wrap.SetOverrideUserAgent(bininfo.Component(), bininfo.VersionOr("rolling"))

	// This context will gracefully shutdown when the process receives the
	// standard shutdown signal SIGINT, with a 10-second delay to allow
	// Kubernetes to stop sending new requests well before the process starts
	// to shut down.
	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)

	registry := monitoring.NewRegistry(config.MonitoringConfig)
	database := must.Return(db.NewPostgresDB(ctx, config.DBConfig, db.NewDBMonitor(registry)))
	defer database.Close()
	store := catalog.NewStore(database)
	must.Succeed(store.Init())

	go database.CheckLivenessPeriodically(ctx)
	go runMonitoringServer(ctx, registry, config.MonitoringConfig)

	mqttClient := mqtt.NewMonitoredClient(config.MQTTConfig, mqtt.NewMQTTMonitor(registry))
	if err := mqttClient.Connect(); err != nil {
		panic("failed to connect to mqtt broker: " + err.Error())
	}
	defer mqttClient.Disconnect()

	// Vim accounts are connected lazily on first use.
	accounts := vim.NewRegistry(config.VIMAccounts, openstack.Factory(http.DefaultClient))
	var wanEngine wan.Engine
	if len(config.WANAccounts) > 0 {
		wanEngine = &wan.StaticEngine{Accounts: config.WANAccounts, Publisher: mqttClient}
	} else {
		slog.Info("no wan accounts configured, networks stay local to their datacenter")
	}
	service := &orchestrator.Service{
		Catalog:  store,
		Accounts: accounts,
		WAN:      wanEngine,
		Dispatcher: &orchestrator.Dispatcher{
			Publisher: mqttClient,
			WAN:       wanEngine,
		},
		Monitor: orchestrator.NewMonitor(registry),
	}

	router := mux.NewRouter()
	api.NewAPI(service, api.NewMonitor(registry)).Init(router)

	// Run the api server after all other tasks have been started and
	// all http handlers have been registered to the router.
	addr := fmt.Sprintf(":%d", config.APIConfig.Port)
	slog.Info("api listening", "port", config.APIConfig.Port)
	if err := httpext.ListenAndServeContext(ctx, addr, router); err != nil {
		panic(err)
	}
}
