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

// Package gateway composes the connection, broadcast, admission and auth layers
// with the backend collaborator
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/rtgateway/admission"
	"github.com/alwitt/rtgateway/auth"
	"github.com/alwitt/rtgateway/backend"
	"github.com/alwitt/rtgateway/common"
	"github.com/alwitt/rtgateway/dataplane"
	"github.com/alwitt/rtgateway/registry"
	"github.com/apex/log"
)

// DefaultPublishTimeout longest wait for room in the broadcast queue
const DefaultPublishTimeout = time.Millisecond * 250

// Options gateway construction parameters
type Options struct {
	// Instance name used in log tags
	Instance string
	// MaxConnections live connection cap; 0 is unlimited
	MaxConnections int
	// IdleTimeout silence before a connection is probed
	IdleTimeout time.Duration
	// ProbeTimeout wait for a probe response before the connection is dead
	ProbeTimeout time.Duration
	// PublishQueueDepth events buffered for broadcast
	PublishQueueDepth int
	// PublishTimeout longest wait for room in the broadcast queue; the event is
	// dropped after it. Defaults to DefaultPublishTimeout.
	PublishTimeout time.Duration
	// BackendTimeout max duration of one backend call
	BackendTimeout time.Duration
	// SweepInterval how often expired admission buckets are dropped
	SweepInterval time.Duration
	// Limiter admission control; nil disables it
	Limiter admission.Controller
	// Verifier bearer token verifier for protected operations
	Verifier auth.TokenVerifier
	// Handshake websocket handshake verifier
	Handshake auth.HandshakeVerifier
	// Backend the backend collaborator
	Backend backend.Service
	// Metrics may be nil
	Metrics *common.GatewayMetrics
}

// EventPayload data of a broadcast following a mutating operation
type EventPayload struct {
	Operation string            `json:"operation"`
	Resource  json.RawMessage   `json:"resource,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Actor     string            `json:"actor,omitempty"`
}

// Stats point in time gateway counters
type Stats struct {
	Connections int            `json:"connections"`
	Monitored   int            `json:"monitored"`
	Topics      map[string]int `json:"topics"`
}

// Gateway owns every piece of mutable gateway state
type Gateway struct {
	common.Component
	registry       registry.Registry
	liveness       dataplane.LivenessMonitor
	broadcaster    dataplane.Broadcaster
	router         dataplane.MessageRouter
	limiter        admission.Controller
	verifier       auth.TokenVerifier
	handshake      auth.HandshakeVerifier
	backend        backend.Service
	metrics        *common.GatewayMetrics
	backendTimeout time.Duration
	publishTimeout time.Duration
	sweepInterval  time.Duration
	sweepTimer     common.IntervalTimer
	operationCtx   context.Context
	wg             *sync.WaitGroup
	now            func() time.Time
}

// NewGateway define a new Gateway
func NewGateway(ctxt context.Context, wg *sync.WaitGroup, opts Options) (*Gateway, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("backend service is required")
	}
	if opts.Handshake == nil {
		return nil, fmt.Errorf("handshake verifier is required")
	}
	if opts.BackendTimeout <= 0 {
		return nil, fmt.Errorf("backend timeout must be positive")
	}
	logTags := log.Fields{
		"module": "gateway", "component": "gateway", "instance": opts.Instance,
	}

	connections, err := registry.GetConnectionRegistry(
		opts.Instance, opts.MaxConnections, opts.Metrics,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define connection registry")
		return nil, err
	}
	liveness, err := dataplane.GetLivenessMonitor(
		opts.Instance,
		opts.IdleTimeout,
		opts.ProbeTimeout,
		connections.Probe,
		func(connectionID string) {
			connections.Remove(connectionID, "liveness_timeout")
		},
		opts.Metrics,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define liveness monitor")
		return nil, err
	}
	connections.OnRemove(func(connectionID string, _ string) {
		liveness.Stop(connectionID)
	})
	broadcaster, err := dataplane.GetBroadcaster(
		ctxt, opts.Instance, connections, opts.PublishQueueDepth, opts.Metrics,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define broadcaster")
		return nil, err
	}
	router, err := dataplane.GetMessageRouter(opts.Instance, connections, liveness, opts.Metrics)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define message router")
		return nil, err
	}

	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}

	instance := &Gateway{
		Component:      common.Component{LogTags: logTags},
		registry:       connections,
		liveness:       liveness,
		broadcaster:    broadcaster,
		router:         router,
		limiter:        opts.Limiter,
		verifier:       opts.Verifier,
		handshake:      opts.Handshake,
		backend:        opts.Backend,
		metrics:        opts.Metrics,
		backendTimeout: opts.BackendTimeout,
		publishTimeout: opts.PublishTimeout,
		sweepInterval:  opts.SweepInterval,
		operationCtx:   ctxt,
		wg:             wg,
		now:            time.Now,
	}
	if opts.Limiter != nil && opts.SweepInterval > 0 {
		instance.sweepTimer, err = common.GetIntervalTimerInstance(
			ctxt, wg, fmt.Sprintf("%s-admission-sweep", opts.Instance),
		)
		if err != nil {
			return nil, err
		}
	}
	return instance, nil
}

// Start start the background workers
func (g *Gateway) Start() error {
	if err := g.broadcaster.Start(g.wg); err != nil {
		log.WithError(err).WithFields(g.LogTags).Error("Unable to start broadcaster")
		return err
	}
	if g.sweepTimer != nil {
		if err := g.sweepTimer.Start(g.sweepInterval, func() error {
			if dropped := g.limiter.Sweep(); dropped > 0 {
				log.WithFields(g.LogTags).Debugf("Dropped %d expired admission buckets", dropped)
			}
			return nil
		}, false); err != nil {
			log.WithError(err).WithFields(g.LogTags).Error("Unable to start admission sweep")
			return err
		}
	}
	log.WithFields(g.LogTags).Info("Gateway started")
	return nil
}

// Shutdown close every connection and stop the background workers
func (g *Gateway) Shutdown() {
	if g.sweepTimer != nil {
		if err := g.sweepTimer.Stop(); err != nil {
			log.WithError(err).WithFields(g.LogTags).Error("Admission sweep stop failed")
		}
	}
	if err := g.broadcaster.Stop(); err != nil {
		log.WithError(err).WithFields(g.LogTags).Error("Broadcaster stop failed")
	}
	closed := 0
	for _, connectionID := range g.registry.IDs() {
		if g.registry.Remove(connectionID, "shutdown") {
			closed++
		}
	}
	g.liveness.StopAll()
	log.WithFields(g.LogTags).Infof("Gateway stopped, closed %d connections", closed)
}

// ===============================================================================
// Persistent connections

// VerifyHandshake decide whether a websocket handshake may proceed
func (g *Gateway) VerifyHandshake(r *http.Request) auth.HandshakeDecision {
	decision := g.handshake.Verify(r)
	if !decision.Accept {
		g.metrics.AuthFailure(decision.Code)
	}
	return decision
}

// Connect register a new connection and greet it
//
// On failure the transport is closed.
func (g *Gateway) Connect(transport registry.Transport, remote registry.RemoteInfo) (string, error) {
	connectionID, err := g.registry.Register(transport, remote)
	if err != nil {
		_ = transport.Close()
		return "", err
	}
	if err := g.liveness.Track(connectionID); err != nil {
		g.registry.Remove(connectionID, "liveness_track_failed")
		return "", err
	}
	greeting := common.NewServerFrame(common.FrameTypeConnected, g.now())
	greeting.ConnectionID = connectionID
	encoded, err := greeting.Encode()
	if err == nil {
		err = g.registry.Send(connectionID, encoded)
	}
	if err != nil {
		g.registry.Remove(connectionID, "send_failed")
		return "", err
	}
	return connectionID, nil
}

// HandleFrame route one inbound client frame
func (g *Gateway) HandleFrame(connectionID string, raw []byte) error {
	return g.router.Route(connectionID, raw)
}

// Activity record non frame activity, such as a probe response
func (g *Gateway) Activity(connectionID string) {
	if g.registry.Touch(connectionID) {
		g.liveness.Touch(connectionID)
	}
}

// Disconnect remove a connection. Safe to call for already removed connections.
func (g *Gateway) Disconnect(connectionID, reason string) {
	g.registry.Remove(connectionID, reason)
}

// Broadcast fan an event out to a topic immediately
func (g *Gateway) Broadcast(topic, event string, data interface{}) (dataplane.BroadcastReport, error) {
	return g.broadcaster.Broadcast(topic, event, data)
}

// Stats point in time gateway counters
func (g *Gateway) Stats() Stats {
	stats := Stats{
		Connections: g.registry.Count(),
		Monitored:   g.liveness.Tracked(),
		Topics:      map[string]int{},
	}
	for _, topic := range g.registry.Topics() {
		stats.Topics[topic] = len(g.registry.SubscribersOf(topic))
	}
	return stats
}

// Registry the connection registry
func (g *Gateway) Registry() registry.Registry {
	return g.registry
}

// ===============================================================================
// HTTP operations

// Admit run admission control for a request path and client key
//
// Returns nil decision when admission control is disabled.
func (g *Gateway) Admit(path, clientKey string) *admission.Decision {
	if g.limiter == nil {
		return nil
	}
	decision := g.limiter.Admit(path, clientKey)
	return &decision
}

// Authenticate verify the bearer credential of a request
func (g *Gateway) Authenticate(r *http.Request) (auth.Identity, error) {
	if g.verifier == nil {
		return auth.Identity{}, common.ErrAuthTokenInvalid(fmt.Errorf("no token verifier configured"))
	}
	identity, err := auth.AuthenticateRequest(g.verifier, r)
	if err != nil {
		if gwErr, ok := common.AsGatewayError(err); ok {
			g.metrics.AuthFailure(gwErr.Code)
		}
		return auth.Identity{}, err
	}
	return identity, nil
}

// Ready whether the backend can serve requests
func (g *Gateway) Ready(ctxt context.Context) error {
	return g.backend.Ready(ctxt)
}

// Execute invoke a backend operation, broadcasting the result of successful
// mutating operations to the operation's family topic
//
// The broadcast is queued; its outcome never changes the returned envelope.
func (g *Gateway) Execute(
	ctxt context.Context, op backend.Operation, req backend.Request,
) (backend.Envelope, error) {
	req.Operation = op.Name
	if req.Subject == "" {
		if identity, ok := auth.IdentityFromContext(ctxt); ok {
			req.Subject = identity.Subject
		}
	}
	logTags := g.ChildLogTags(log.Fields{"operation": op.Name})

	callCtxt, cancel := context.WithTimeout(ctxt, g.backendTimeout)
	defer cancel()
	startTime := g.now()
	envelope, err := g.backend.Invoke(callCtxt, req)
	elapsed := g.now().Sub(startTime)
	if err != nil {
		g.metrics.BackendCall(op.Name, "error", elapsed)
		if _, ok := common.AsGatewayError(err); ok {
			return backend.Envelope{}, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return backend.Envelope{}, common.ErrDownstream(
				http.StatusBadGateway, common.CodeDownstreamTimeout, "Backend service timed out", err,
			)
		}
		return backend.Envelope{}, common.ErrDownstream(
			http.StatusBadGateway, common.CodeDownstreamError, "Backend service call failed", err,
		)
	}
	if !envelope.Success {
		g.metrics.BackendCall(op.Name, "failure", elapsed)
		return envelope, nil
	}
	g.metrics.BackendCall(op.Name, "success", elapsed)

	if op.Mutating() {
		payload := EventPayload{
			Operation: op.Name, Resource: envelope.Data, Params: req.Params, Actor: req.Subject,
		}
		// Not bound to the request context; a backed up broadcast queue drops the
		// event instead of holding the response.
		publishCtxt, cancelPublish := context.WithTimeout(g.operationCtx, g.publishTimeout)
		err := g.broadcaster.Publish(publishCtxt, op.Family, op.Event, payload)
		cancelPublish()
		if err != nil {
			log.WithError(err).WithFields(logTags).Warn("Event broadcast dropped")
		}
	}
	return envelope, nil
}
