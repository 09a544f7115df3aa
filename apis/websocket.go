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
	"fmt"
	"net/http"
	"strings"

	"github.com/alwitt/goutils"
	"github.com/alwitt/rtgateway/common"
	"github.com/alwitt/rtgateway/dataplane"
	"github.com/alwitt/rtgateway/gateway"
	"github.com/alwitt/rtgateway/registry"
	"github.com/apex/log"
	"github.com/gorilla/websocket"
)

// APIWebSocketHandler upgrades clients to persistent gateway connections
type APIWebSocketHandler struct {
	goutils.RestAPIHandler
	gw             *gateway.Gateway
	upgrader       websocket.Upgrader
	sessionParam   dataplane.WebSocketSessionParam
	trustForwarded bool
}

// originChecker build the upgrade origin check
//
// No allowed origins falls back to the same-origin check; "*" accepts any origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	accepted := map[string]bool{}
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		accepted[normalizeOrigin(origin)] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return accepted[normalizeOrigin(origin)]
	}
}

// normalizeOrigin lower-case the origin and drop any trailing "/"
func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}

// GetAPIWebSocketHandler define APIWebSocketHandler
func GetAPIWebSocketHandler(
	gw *gateway.Gateway, config *common.GatewayServerConfig,
) (APIWebSocketHandler, error) {
	if gw == nil {
		return APIWebSocketHandler{}, fmt.Errorf("gateway is required")
	}
	logTags := log.Fields{
		"module":    "apis",
		"component": "websocket",
	}
	wsConfig := config.WebSocket
	return APIWebSocketHandler{
		RestAPIHandler: defineRestAPIHandler(logTags, &config.HTTPSetting),
		gw:             gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsConfig.ReadBufferSize,
			WriteBufferSize: wsConfig.WriteBufferSize,
			CheckOrigin:     originChecker(wsConfig.AllowedOrigins),
		},
		sessionParam: dataplane.WebSocketSessionParam{
			SendQueueDepth:  wsConfig.SendQueueDepth,
			WriteTimeout:    common.SecondsToDuration(wsConfig.WriteTimeout),
			MaxMessageBytes: wsConfig.MaxMessageBytes,
		},
		trustForwarded: config.RateLimit.TrustForwardedFor,
	}, nil
}

// Connect handle one persistent connection handshake, then serve the
// connection until it closes
func (h APIWebSocketHandler) Connect(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	decision := h.gw.VerifyHandshake(r)
	if !decision.Accept {
		log.WithFields(localLogTags).WithField("event_class", "security").
			Warnf("Rejected connection handshake: %s", decision.Reason)
		resp := ErrorResponse{Error: ErrorDetail{Message: decision.Reason, Code: decision.Code}}
		if err := h.WriteRESTResponse(w, http.StatusUnauthorized, resp, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		log.WithError(err).WithFields(localLogTags).Error("Connection upgrade failed")
		return
	}

	remote := registry.RemoteInfo{
		RemoteAddr: common.ClientAddress(r, h.trustForwarded),
		UserAgent:  r.UserAgent(),
		Subject:    decision.Identity.Subject,
	}
	session, err := dataplane.NewWebSocketSession(conn, h.sessionParam, localLogTags)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to define websocket session")
		_ = conn.Close()
		return
	}

	connectionID, err := h.gw.Connect(session, remote)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to register connection")
		return
	}
	connLogTags := log.Fields{}
	for k, v := range localLogTags {
		connLogTags[k] = v
	}
	common.ConnectionParam{
		ID:         connectionID,
		RemoteAddr: remote.RemoteAddr,
		UserAgent:  remote.UserAgent,
		Subject:    remote.Subject,
	}.UpdateLogTags(connLogTags)
	log.WithFields(connLogTags).Info("Connection opened")

	runErr := session.Run(
		func(frame []byte) {
			if err := h.gw.HandleFrame(connectionID, frame); err != nil {
				log.WithError(err).WithFields(connLogTags).Debug("Inbound frame not handled")
			}
		},
		func() {
			h.gw.Activity(connectionID)
		},
	)
	if runErr != nil {
		log.WithError(runErr).WithFields(connLogTags).Debug("Connection ended abnormally")
	}
	h.gw.Disconnect(connectionID, "client_closed")
	log.WithFields(connLogTags).Info("Connection closed")
}

// ConnectHandler Wrapper around Connect
func (h APIWebSocketHandler) ConnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Connect(w, r)
	}
}
