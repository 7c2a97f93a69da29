// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxyserver

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// gracefulShutdown coordinates stopping the HTTP listener and draining
// in-flight requests within a deadline (default 30s), then runs the
// registered cleanup callbacks in registration order. Adapted from the
// pack's infrastructure/middleware/shutdown.go GracefulShutdown: one
// server plus a callback list, where Run registers the cron stop, the
// StateStore close, and the Redis mirror close. No adapter transport is
// closed.
type gracefulShutdown struct {
	mu        sync.Mutex
	server    *http.Server
	timeout   time.Duration
	done      chan struct{}
	callbacks []func()
}

func newGracefulShutdown(server *http.Server, timeout time.Duration) *gracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &gracefulShutdown{server: server, timeout: timeout, done: make(chan struct{})}
}

// onShutdown registers a cleanup step (e.g. store.Close, cron stop) to run
// after the HTTP listener has stopped accepting connections.
func (g *gracefulShutdown) onShutdown(callback func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks = append(g.callbacks, callback)
}

// listenForSignals blocks the caller's goroutine of origin not at all; it
// spawns its own goroutine watching SIGINT/SIGTERM/SIGQUIT and triggers
// shutdown on receipt.
func (g *gracefulShutdown) listenForSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-sigChan
		log.Printf("proxyserver: received signal %v, shutting down", sig)
		g.shutdown()
	}()
}

func (g *gracefulShutdown) shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			log.Printf("proxyserver: error stopping HTTP listener: %v", err)
		}
	}

	for _, cb := range g.callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("proxyserver: panic in shutdown callback: %v", r)
				}
			}()
			cb()
		}()
	}

	close(g.done)
}

func (g *gracefulShutdown) wait() {
	<-g.done
}
