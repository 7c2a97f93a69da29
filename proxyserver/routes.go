// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxyserver

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes mirrors orchestrator/run.go's Run() route table: health
// and metrics endpoints are public, the routing surface is the proxy's
// main job, and the /admin/* tree is gated by requireAdmin.
func registerRoutes(r *mux.Router, c *components) {
	r.HandleFunc("/healthz", c.healthzHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/v1/route", c.routeHandler).Methods("POST")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(requireAdmin)
	admin.HandleFunc("/keys", c.listKeysHandler).Methods("GET")
	admin.HandleFunc("/keys", c.registerKeyHandler).Methods("POST")
	admin.HandleFunc("/keys/{id}/rotate", c.rotateKeyHandler).Methods("POST")
	admin.HandleFunc("/budgets", c.listBudgetsHandler).Methods("GET")
	admin.HandleFunc("/budgets", c.createBudgetHandler).Methods("POST")
	admin.HandleFunc("/budgets/{id}", c.getBudgetHandler).Methods("GET")
	admin.HandleFunc("/policies", c.listPoliciesHandler).Methods("GET")
	admin.HandleFunc("/policies", c.addPolicyHandler).Methods("POST")
}
