// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package observability wraps shared/logger with the mandatory redaction
// pass spec.md §9 calls for ("a single sanitizer pass before every emit...
// belongs in the Observability layer, not sprinkled at call sites") and
// emits the three event kinds the rest of the system records: routing
// decisions, state transitions, and key_access audits.
package observability

import (
	"strings"

	"apikeyrouter/domain"
	"apikeyrouter/shared/logger"
)

const redactionMarker = "***REDACTED***"

// sensitiveFieldNames lists field keys that are never allowed to reach the
// log sink verbatim, regardless of caller discipline.
var sensitiveFieldNames = map[string]bool{
	"key_material":    true,
	"plaintext":       true,
	"encryption_key":  true,
	"api_key":         true,
	"secret":          true,
}

// Observer is the Observability component. It is safe for concurrent use;
// the underlying logger performs no buffering of its own.
type Observer struct {
	log *logger.Logger
}

// New creates an Observer for the given component name.
func New(component string) *Observer {
	return &Observer{log: logger.New(component)}
}

// redact strips any sensitive field from a fields map and masks values that
// look like secrets (long opaque tokens), returning a copy safe to log.
func redact(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		lower := strings.ToLower(k)
		if sensitiveFieldNames[lower] {
			out[k] = redactionMarker
			continue
		}
		if s, ok := v.(string); ok && looksLikeSecret(s) {
			out[k] = redactionMarker
			continue
		}
		out[k] = v
	}
	return out
}

// looksLikeSecret applies a cheap heuristic: strings that start with a
// known secret prefix, and whitespace-free strings longer than 64
// characters, are masked even when the field name didn't tip us off.
func looksLikeSecret(s string) bool {
	prefixes := []string{"sk-", "Bearer ", "AKIA", "ya29.", "ghp_"}
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	if strings.ContainsAny(s, " \t\n") {
		return false
	}
	return len(s) > 64
}

// Info/Warn/Error/Debug proxy to the logger after redacting fields.
func (o *Observer) Info(clientID, requestID, message string, fields map[string]interface{}) {
	o.log.Info(clientID, requestID, message, redact(fields))
}

func (o *Observer) Warn(clientID, requestID, message string, fields map[string]interface{}) {
	o.log.Warn(clientID, requestID, message, redact(fields))
}

func (o *Observer) Error(clientID, requestID, message string, fields map[string]interface{}) {
	o.log.Error(clientID, requestID, message, redact(fields))
}

func (o *Observer) Debug(clientID, requestID, message string, fields map[string]interface{}) {
	o.log.Debug(clientID, requestID, message, redact(fields))
}

// EmitDecision logs a RoutingDecision as a structured event. The store is
// responsible for persisting the decision; this only surfaces it in logs.
func (o *Observer) EmitDecision(d *domain.RoutingDecision) {
	o.Info("", d.RequestID, "routing_decision", map[string]interface{}{
		"decision_id":   d.ID,
		"selected_key":  d.SelectedKeyID,
		"provider":      d.SelectedProviderID,
		"objective":     d.Objective.Primary,
		"confidence":    d.Confidence,
		"explanation":   d.Explanation,
		"eligible_keys": len(d.EligibleKeys),
	})
}

// EmitTransition logs a StateTransition as a structured event.
func (o *Observer) EmitTransition(t *domain.StateTransition) {
	o.Info("", "", "state_transition", map[string]interface{}{
		"entity_type": t.EntityType,
		"entity_id":   t.EntityID,
		"from_state":  t.FromState,
		"to_state":    t.ToState,
		"trigger":     t.Trigger,
		"context":     t.Context,
	})
}

// EmitKeyAccess logs a key_access audit event on both success and failure of
// a decrypt operation. The event never carries the material itself.
func (o *Observer) EmitKeyAccess(keyID, operation string, success bool, err error) {
	fields := map[string]interface{}{
		"key_id":    keyID,
		"operation": operation,
		"success":   success,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if success {
		o.Info("", "", "key_access", fields)
	} else {
		o.Warn("", "", "key_access", fields)
	}
}
