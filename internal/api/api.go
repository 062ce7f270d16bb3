// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package api exposes instance creation, deletion and scaling over http.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cobaltcore-dev/conductor/internal/catalog"
	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/orchestrator"
	"github.com/cobaltcore-dev/conductor/internal/rollback"
	"github.com/cobaltcore-dev/conductor/internal/scaling"
	"github.com/cobaltcore-dev/conductor/internal/topology"
	"github.com/gorilla/mux"
)

// Requests larger than this are rejected.
const maxBodySize = 4 << 20

// Service is the orchestration backend of the api.
type Service interface {
	CreateInstance(ctx context.Context, tenantID string, tmpl *topology.Template, req *topology.Request) (*orchestrator.Result, []rollback.Entry, error)
	Rollback(ctx context.Context, effects []rollback.Entry, cause error) error
	GetInstance(tenantID, instanceID string) (*catalog.State, error)
	DeleteInstance(ctx context.Context, tenantID, instanceID string) (*orchestrator.Result, error)
	ScaleInstance(ctx context.Context, tenantID, instanceID string, entries []scaling.Entry) (*orchestrator.Result, error)
	GetAction(tenantID, actionID string) (*catalog.InstanceAction, []catalog.VIMAction, error)
}

type API struct {
	service Service
	monitor Monitor
}

func NewAPI(service Service, monitor Monitor) *API {
	return &API{service: service, monitor: monitor}
}

// Routes of the api, also used as metric labels.
const (
	routeInstances = "/v1/{tenant}/instances"
	routeInstance  = "/v1/{tenant}/instances/{id}"
	routeAction    = "/v1/{tenant}/instances/{id}/action"
	routeActions   = "/v1/{tenant}/instances/{id}/actions/{action}"
)

// Init binds the handlers to the router.
func (a *API) Init(r *mux.Router) {
	r.HandleFunc("/up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	r.HandleFunc(routeInstances, a.CreateInstance).Methods(http.MethodPost)
	r.HandleFunc(routeInstance, a.GetInstance).Methods(http.MethodGet)
	r.HandleFunc(routeInstance, a.DeleteInstance).Methods(http.MethodDelete)
	r.HandleFunc(routeAction, a.InstanceAction).Methods(http.MethodPost)
	r.HandleFunc(routeActions, a.GetAction).Methods(http.MethodGet)
}

func decode(r *http.Request, w http.ResponseWriter, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(dest); err != nil {
		return errdefs.Validationf("invalid request body: %v", err)
	}
	return nil
}

type createRequest struct {
	Template *topology.Template `json:"template"`
	Instance *topology.Request  `json:"instance"`
}

// CreateInstance compiles a new instance. Side effects of a failed
// compilation are rolled back before responding.
func (a *API) CreateInstance(w http.ResponseWriter, r *http.Request) {
	c := a.monitor.Callback(w, r, routeInstances)
	defer r.Body.Close()
	tenant := mux.Vars(r)["tenant"]

	var body createRequest
	if err := decode(r, w, &body); err != nil {
		c.RespondError(err)
		return
	}
	result, effects, err := a.service.CreateInstance(r.Context(), tenant, body.Template, body.Instance)
	if err != nil {
		c.RespondError(a.service.Rollback(r.Context(), effects, err))
		return
	}
	slog.Info("created instance", "tenant", tenant, "instance", result.InstanceID, "action", result.ActionID)
	c.Respond(http.StatusCreated, result)
}

func (a *API) GetInstance(w http.ResponseWriter, r *http.Request) {
	c := a.monitor.Callback(w, r, routeInstance)
	vars := mux.Vars(r)
	state, err := a.service.GetInstance(vars["tenant"], vars["id"])
	if err != nil {
		c.RespondError(err)
		return
	}
	c.Respond(http.StatusOK, newInstanceView(state))
}

func (a *API) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	c := a.monitor.Callback(w, r, routeInstance)
	vars := mux.Vars(r)
	result, err := a.service.DeleteInstance(r.Context(), vars["tenant"], vars["id"])
	if err != nil {
		c.RespondError(err)
		return
	}
	c.Respond(http.StatusAccepted, result)
}

type actionRequest struct {
	VDUScaling []scaling.Entry `json:"vdu-scaling"`
}

// InstanceAction runs an action against a deployed instance. Only vdu
// scaling is supported.
func (a *API) InstanceAction(w http.ResponseWriter, r *http.Request) {
	c := a.monitor.Callback(w, r, routeAction)
	defer r.Body.Close()
	vars := mux.Vars(r)

	var body actionRequest
	if err := decode(r, w, &body); err != nil {
		c.RespondError(err)
		return
	}
	if len(body.VDUScaling) == 0 {
		c.RespondError(errdefs.Validationf("no action given, expected vdu-scaling"))
		return
	}
	result, err := a.service.ScaleInstance(r.Context(), vars["tenant"], vars["id"], body.VDUScaling)
	if err != nil {
		c.RespondError(err)
		return
	}
	c.Respond(http.StatusAccepted, result)
}

func (a *API) GetAction(w http.ResponseWriter, r *http.Request) {
	c := a.monitor.Callback(w, r, routeActions)
	vars := mux.Vars(r)
	action, tasks, err := a.service.GetAction(vars["tenant"], vars["action"])
	if err != nil {
		c.RespondError(err)
		return
	}
	if action.InstanceID != vars["id"] {
		c.RespondError(errdefs.NotFoundf("action %s not found for instance %s", vars["action"], vars["id"]))
		return
	}
	c.Respond(http.StatusOK, newActionView(action, tasks))
}
