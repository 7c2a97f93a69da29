// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxyserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"apikeyrouter/domain"
	apkerrors "apikeyrouter/errors"
)

// Wire DTOs for the HTTP boundary, tagged snake_case per
// OrchestratorRequest/OrchestratorResponse's convention in
// orchestrator/run.go, kept distinct from the untagged in-process domain
// types they convert to/from.

type messageDTO struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type routeRequestDTO struct {
	Model       string            `json:"model"`
	Messages    []messageDTO      `json:"messages"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens"`
	TopP        float64           `json:"top_p"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Objective   string            `json:"objective,omitempty"`
}

type routeResponseDTO struct {
	Content    string               `json:"content"`
	ModelUsed  string               `json:"model_used"`
	TokensUsed domain.TokensUsed    `json:"tokens_used"`
	KeyUsed    string               `json:"key_used"`
	RequestID  string               `json:"request_id"`
	Cost       *domain.CostEstimate `json:"cost,omitempty"`
	ProviderID string               `json:"provider_id"`
}

func (c *components) routeHandler(w http.ResponseWriter, r *http.Request) {
	var req routeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	messages := make([]domain.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, domain.Message{Role: domain.Role(m.Role), Content: m.Content})
	}
	intent := &domain.RequestIntent{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Metadata:    req.Metadata,
	}

	var objective *domain.RoutingObjective
	if req.Objective != "" {
		objective = &domain.RoutingObjective{Primary: req.Objective}
	}

	resp, err := c.r.Route(r.Context(), intent, objective)
	if err != nil {
		writeSystemError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, routeResponseDTO{
		Content:    resp.Content,
		ModelUsed:  resp.Metadata.ModelUsed,
		TokensUsed: resp.Metadata.TokensUsed,
		KeyUsed:    resp.KeyUsed,
		RequestID:  resp.RequestID,
		Cost:       resp.Cost,
		ProviderID: resp.Metadata.ProviderID,
	})
}

type registerKeyRequestDTO struct {
	KeyMaterial string            `json:"key_material"`
	ProviderID  string            `json:"provider_id"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (c *components) registerKeyHandler(w http.ResponseWriter, r *http.Request) {
	var req registerKeyRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	key, err := c.keys.RegisterKey(r.Context(), req.KeyMaterial, req.ProviderID, req.Metadata)
	if err != nil {
		writeSystemError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, key.ToSafeView())
}

func (c *components) listKeysHandler(w http.ResponseWriter, r *http.Request) {
	providerID := r.URL.Query().Get("provider_id")
	keys := c.keys.ListKeys(providerID)
	views := make([]domain.SafeView, 0, len(keys))
	for _, k := range keys {
		views = append(views, k.ToSafeView())
	}
	writeJSON(w, http.StatusOK, views)
}

type rotateKeyRequestDTO struct {
	NewKeyMaterial string            `json:"new_key_material"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func (c *components) rotateKeyHandler(w http.ResponseWriter, r *http.Request) {
	oldID := mux.Vars(r)["id"]
	var req rotateKeyRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	key, err := c.keys.RotateKey(r.Context(), oldID, req.NewKeyMaterial, req.Metadata)
	if err != nil {
		writeSystemError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key.ToSafeView())
}

type createBudgetRequestDTO struct {
	Scope           string  `json:"scope"`
	ScopeID         string  `json:"scope_id,omitempty"`
	LimitAmount     float64 `json:"limit_amount"`
	Period          string  `json:"period"`
	EnforcementMode string  `json:"enforcement_mode"`
}

func (c *components) createBudgetHandler(w http.ResponseWriter, r *http.Request) {
	var req createBudgetRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	mode := domain.EnforcementMode(req.EnforcementMode)
	if mode == "" {
		mode = c.cfg.DefaultEnforcementMode
	}
	b := &domain.Budget{
		Scope:           domain.BudgetScope(req.Scope),
		ScopeID:         req.ScopeID,
		LimitAmount:     req.LimitAmount,
		Period:          domain.BudgetPeriod(req.Period),
		EnforcementMode: mode,
		ResetAt:         time.Now().UTC(),
	}
	if err := c.costCtl.CreateBudget(r.Context(), b); err != nil {
		writeSystemError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (c *components) listBudgetsHandler(w http.ResponseWriter, r *http.Request) {
	budgets, err := c.costCtl.ListBudgets(r.Context())
	if err != nil {
		writeSystemError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, budgets)
}

func (c *components) getBudgetHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := c.costCtl.GetBudget(r.Context(), id)
	if err != nil {
		writeSystemError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (c *components) listPoliciesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.policyEng.ListPolicies())
}

type addPolicyRequestDTO struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Scope    string                 `json:"scope,omitempty"`
	ScopeID  string                 `json:"scope_id,omitempty"`
	Rules    map[string]interface{} `json:"rules"`
	Priority int                    `json:"priority"`
	Enabled  bool                   `json:"enabled"`
}

func (c *components) addPolicyHandler(w http.ResponseWriter, r *http.Request) {
	var req addPolicyRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	now := time.Now().UTC()
	p := &domain.Policy{
		ID:        req.ID,
		Type:      domain.PolicyType(req.Type),
		Scope:     req.Scope,
		ScopeID:   req.ScopeID,
		Rules:     req.Rules,
		Priority:  req.Priority,
		Enabled:   req.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.policyEng.AddPolicy(p)
	writeJSON(w, http.StatusCreated, p)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeSystemError maps a SystemError's Category to an HTTP status,
// mirroring processRequestHandler's error-to-status mapping in
// orchestrator/run.go.
func writeSystemError(w http.ResponseWriter, err error) {
	se, ok := err.(*apkerrors.SystemError)
	if !ok {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusInternalServerError
	switch se.Category {
	case apkerrors.CategoryValidation:
		status = http.StatusBadRequest
	case apkerrors.CategoryAuthentication:
		status = http.StatusUnauthorized
	case apkerrors.CategoryRateLimit, apkerrors.CategoryQuotaExceeded, apkerrors.CategoryBudgetExceeded:
		status = http.StatusTooManyRequests
	case apkerrors.CategoryTimeout:
		status = http.StatusGatewayTimeout
	case apkerrors.CategoryProvider, apkerrors.CategoryNetwork:
		status = http.StatusBadGateway
	}

	if se.Category == apkerrors.CategoryBudgetExceeded {
		writeJSON(w, status, budgetExceededDTO{
			Error:           se.Error(),
			RemainingBudget: se.RemainingBudget,
			ViolatedBudgets: se.ViolatedBudgets,
			Estimate:        se.Estimate,
		})
		return
	}
	writeJSON(w, status, map[string]string{"error": se.Error()})
}

// budgetExceededDTO surfaces spec.md §4.8's BudgetExceededError contract at
// the HTTP boundary: remaining budget, which budgets were violated, and the
// estimate that tripped them.
type budgetExceededDTO struct {
	Error           string               `json:"error"`
	RemainingBudget float64              `json:"remaining_budget"`
	ViolatedBudgets []string             `json:"violated_budgets,omitempty"`
	Estimate        *domain.CostEstimate `json:"estimate,omitempty"`
}
