// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Command proxy is the reference HTTP boundary for the API key router:
// a thin entry point that defers to proxyserver.Run, mirroring
// cmd/orchestrator/main.go's trivial wrapper over orchestrator.Run.
//
// Environment variables (see config.Load and proxyserver.registerProviders
// for the full list):
//
//	ENCRYPTION_KEY, ENCRYPTION_SALT  - key material encryption (required)
//	DATABASE_URL                     - Postgres DSN; falls back to an
//	                                   in-memory StateStore when unset
//	PORT                             - listen port (default 8080)
//	ADMIN_JWT_SECRET                 - HMAC secret gating /admin/* routes
//	OPENAI_API_KEY, ANTHROPIC_API_KEY, BEDROCK_REGION, OLLAMA_ENDPOINT
//	                                 - provider adapter credentials (all optional)
package main

import "apikeyrouter/proxyserver"

func main() {
	proxyserver.Run()
}
