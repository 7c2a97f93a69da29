// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxyserver

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var processStartedAt = time.Now()

type healthResponse struct {
	Status         string  `json:"status"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	StateStoreOK   bool    `json:"state_store_ok"`
	ProvidersCount int     `json:"providers_count"`
	CPUPercent     float64 `json:"cpu_percent,omitempty"`
	MemUsedPercent float64 `json:"mem_used_percent,omitempty"`
}

// healthzHandler reports process and dependency health, following
// orchestrator/run.go's healthHandler aggregation pattern, enriched with a
// gopsutil resource snapshot per SPEC_FULL.md §9.
func (c *components) healthzHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		UptimeSeconds:  time.Since(processStartedAt).Seconds(),
		ProvidersCount: len(c.providers.List()),
	}

	if err := c.stateStore.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.StateStoreOK = false
	} else {
		resp.StateStoreOK = true
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemUsedPercent = vm.UsedPercent
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
