// Copyright 2026 The rtgateway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/rtgateway/admission"
	"github.com/alwitt/rtgateway/apis"
	"github.com/alwitt/rtgateway/auth"
	"github.com/alwitt/rtgateway/backend"
	"github.com/alwitt/rtgateway/common"
	"github.com/alwitt/rtgateway/core"
	"github.com/alwitt/rtgateway/gateway"
	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// MemoryBackendLogRetention log entries kept by the in-process backend
const MemoryBackendLogRetention = 1000

// defineBackend select the backend implementation
func defineBackend(
	config common.BackendConfig, instance string, natsClient *core.NatsClient,
) (backend.Service, error) {
	switch config.Mode {
	case "nats":
		if natsClient == nil {
			return nil, fmt.Errorf("NATS backend mode requires a NATS client")
		}
		return backend.GetNATSBackend(natsClient, config.SubjectPrefix)
	case "memory":
		return backend.NewMemoryBackend(instance, MemoryBackendLogRetention)
	default:
		return nil, fmt.Errorf("unknown backend mode '%s'", config.Mode)
	}
}

// defineGatewayOptions build the gateway parameters from config
func defineGatewayOptions(
	config *common.GatewayServerConfig,
	instance string,
	service backend.Service,
	metrics *common.GatewayMetrics,
) (gateway.Options, error) {
	verifier, err := auth.GetTokenVerifier(config.Auth)
	if err != nil {
		return gateway.Options{}, err
	}
	var handshake auth.HandshakeVerifier
	if config.WebSocket.RequireAuth {
		handshake = auth.NewTokenHandshakeVerifier(verifier)
	} else {
		handshake = auth.NewOpenHandshakeVerifier()
	}
	var limiter admission.Controller
	if config.RateLimit.Enabled {
		rules, fallback := admission.RulesFromConfig(config.RateLimit)
		limiter, err = admission.GetFixedWindowController(instance, rules, fallback, time.Now, metrics)
		if err != nil {
			return gateway.Options{}, err
		}
	}
	return gateway.Options{
		Instance:          instance,
		MaxConnections:    config.WebSocket.MaxConnections,
		IdleTimeout:       common.SecondsToDuration(config.Liveness.IdleTimeout),
		ProbeTimeout:      common.SecondsToDuration(config.Liveness.ProbeTimeout),
		PublishQueueDepth: config.WebSocket.SendQueueDepth * 4,
		BackendTimeout:    common.SecondsToDuration(config.Backend.RequestTimeout),
		SweepInterval:     common.SecondsToDuration(config.RateLimit.SweepInterval),
		Limiter:           limiter,
		Verifier:          verifier,
		Handshake:         handshake,
		Backend:           service,
		Metrics:           metrics,
	}, nil
}

// RunGatewayServer run the gateway server
//
// natsClient may be nil when the backend runs in memory.
func RunGatewayServer(
	runtimeContext context.Context,
	config *common.GatewayServerConfig,
	instance string,
	natsClient *core.NatsClient,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "gateway",
		"instance":  instance,
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := common.NewGatewayMetrics(promRegistry)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define metrics")
		return err
	}

	service, err := defineBackend(config.Backend, instance, natsClient)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define backend")
		return err
	}

	opts, err := defineGatewayOptions(config, instance, service, metrics)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid gateway config")
		return err
	}

	localCtxt, lclCancel := context.WithCancel(runtimeContext)
	defer lclCancel()
	gw, err := gateway.NewGateway(localCtxt, wg, opts)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define gateway")
		return err
	}
	if err := gw.Start(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start gateway")
		return err
	}
	defer gw.Shutdown()

	// -------------------------------------------------------------------
	// Start the HTTP server

	router, err := apis.DefineGatewayRouter(gw, config, promRegistry)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP router")
		return err
	}

	serverCfg := config.HTTPSetting.Server
	serverListen := fmt.Sprintf("%s:%d", serverCfg.ListenOn, serverCfg.Port)
	httpSrv := &http.Server{
		Addr:         serverListen,
		WriteTimeout: common.SecondsToDuration(serverCfg.WriteTimeout),
		ReadTimeout:  common.SecondsToDuration(serverCfg.ReadTimeout),
		IdleTimeout:  common.SecondsToDuration(serverCfg.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runtimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
