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

package apis

import (
	"net/http"
	"strings"

	"github.com/alwitt/rtgateway/backend"
	"github.com/alwitt/rtgateway/common"
	"github.com/alwitt/rtgateway/gateway"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefineGatewayRouter define the complete gateway HTTP router
//
// Every backend operation is mounted at its catalog path, alongside the
// persistent connection upgrade path and the health endpoints. The metrics
// endpoint is only mounted when gatherer is not nil.
func DefineGatewayRouter(
	gw *gateway.Gateway, config *common.GatewayServerConfig, gatherer prometheus.Gatherer,
) (*mux.Router, error) {
	httpHandler, err := GetAPIRestGatewayHandler(gw, config)
	if err != nil {
		return nil, err
	}
	wsHandler, err := GetAPIWebSocketHandler(gw, config)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	mainRouter := RegisterPathPrefix(router, config.Endpoints.PathPrefix, nil)

	// Backend operations, grouped by path so each path owns all its methods
	pathOrder := []string{}
	byPath := map[string]MethodHandlers{}
	for _, op := range backend.Catalog() {
		if _, ok := byPath[op.Path]; !ok {
			pathOrder = append(pathOrder, op.Path)
			byPath[op.Path] = MethodHandlers{}
		}
		byPath[op.Path][strings.ToLower(op.Method)] = httpHandler.OperationHandler(op)
	}
	for _, path := range pathOrder {
		_ = RegisterPathPrefix(mainRouter, path, byPath[path])
	}

	// Persistent connections
	_ = RegisterPathPrefix(mainRouter, config.Endpoints.WebSocketPath, MethodHandlers{
		"get": wsHandler.ConnectHandler(),
	})

	// Health check
	_ = RegisterPathPrefix(mainRouter, "/alive", MethodHandlers{
		"get": httpHandler.AliveHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/ready", MethodHandlers{
		"get": httpHandler.ReadyHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/status", MethodHandlers{
		"get": httpHandler.StatusHandler(),
	})
	if gatherer != nil {
		metricsHandler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
		_ = RegisterPathPrefix(mainRouter, "/metrics", MethodHandlers{
			"get": metricsHandler.ServeHTTP,
		})
	}

	router.NotFoundHandler = httpHandler.NotFoundHandler()

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	return router, nil
}
