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

package common

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics Prometheus instruments for the gateway
//
// A nil *GatewayMetrics is valid; every recording method is then a no-op.
type GatewayMetrics struct {
	connectionsActive   prometheus.Gauge
	connectionsTotal    prometheus.Counter
	disconnectsTotal    *prometheus.CounterVec
	topicsActive        prometheus.Gauge
	controlFramesTotal  *prometheus.CounterVec
	broadcastsTotal     *prometheus.CounterVec
	deliveriesTotal     *prometheus.CounterVec
	livenessProbesTotal prometheus.Counter
	admissionTotal      *prometheus.CounterVec
	authFailuresTotal   *prometheus.CounterVec
	backendCallsTotal   *prometheus.CounterVec
	backendLatency      *prometheus.HistogramVec
}

// NewGatewayMetrics define and register the gateway metrics
func NewGatewayMetrics(registerer prometheus.Registerer) (*GatewayMetrics, error) {
	m := &GatewayMetrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtgateway", Subsystem: "connections", Name: "active",
			Help: "Number of live persistent connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtgateway", Subsystem: "connections", Name: "opened_total",
			Help: "Number of persistent connections registered",
		}),
		disconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtgateway", Subsystem: "connections", Name: "closed_total",
			Help: "Number of persistent connections removed, by reason",
		}, []string{"reason"}),
		topicsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtgateway", Subsystem: "subscriptions", Name: "topics",
			Help: "Number of topics with at least one subscriber",
		}),
		controlFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtgateway", Subsystem: "control", Name: "frames_total",
			Help: "Inbound control frames, by message kind",
		}, []string{"kind"}),
		broadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtgateway", Subsystem: "broadcast", Name: "events_total",
			Help: "Events broadcast, by topic",
		}, []string{"topic"}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtgateway", Subsystem: "broadcast", Name: "deliveries_total",
			Help: "Per subscriber deliveries, by result",
		}, []string{"result"}),
		livenessProbesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtgateway", Subsystem: "liveness", Name: "probes_total",
			Help: "Keepalive probes sent to idle connections",
		}),
		admissionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtgateway", Subsystem: "admission", Name: "decisions_total",
			Help: "Admission control decisions, by category and outcome",
		}, []string{"category", "outcome"}),
		authFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtgateway", Subsystem: "auth", Name: "failures_total",
			Help: "Rejected credentials, by error code",
		}, []string{"code"}),
		backendCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtgateway", Subsystem: "backend", Name: "calls_total",
			Help: "Backend service calls, by operation and outcome",
		}, []string{"operation", "outcome"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rtgateway", Subsystem: "backend", Name: "call_duration_seconds",
			Help:    "Backend service call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	for _, collector := range []prometheus.Collector{
		m.connectionsActive,
		m.connectionsTotal,
		m.disconnectsTotal,
		m.topicsActive,
		m.controlFramesTotal,
		m.broadcastsTotal,
		m.deliveriesTotal,
		m.livenessProbesTotal,
		m.admissionTotal,
		m.authFailuresTotal,
		m.backendCallsTotal,
		m.backendLatency,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ConnectionOpened record a new connection
func (m *GatewayMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed record a removed connection
func (m *GatewayMetrics) ConnectionClosed(reason string) {
	if m == nil {
		return
	}
	m.disconnectsTotal.WithLabelValues(reason).Inc()
	m.connectionsActive.Dec()
}

// SetActiveTopics record the current topic count
func (m *GatewayMetrics) SetActiveTopics(count int) {
	if m == nil {
		return
	}
	m.topicsActive.Set(float64(count))
}

// ControlFrame record an inbound control frame
func (m *GatewayMetrics) ControlFrame(kind string) {
	if m == nil {
		return
	}
	m.controlFramesTotal.WithLabelValues(kind).Inc()
}

// Broadcast record one broadcast and its per subscriber outcome
func (m *GatewayMetrics) Broadcast(topic string, delivered, failed int) {
	if m == nil {
		return
	}
	m.broadcastsTotal.WithLabelValues(topic).Inc()
	m.deliveriesTotal.WithLabelValues("delivered").Add(float64(delivered))
	m.deliveriesTotal.WithLabelValues("failed").Add(float64(failed))
}

// LivenessProbe record a probe sent
func (m *GatewayMetrics) LivenessProbe() {
	if m == nil {
		return
	}
	m.livenessProbesTotal.Inc()
}

// Admission record an admission decision
func (m *GatewayMetrics) Admission(category string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.admissionTotal.WithLabelValues(category, outcome).Inc()
}

// AuthFailure record a rejected credential
func (m *GatewayMetrics) AuthFailure(code string) {
	if m == nil {
		return
	}
	m.authFailuresTotal.WithLabelValues(code).Inc()
}

// BackendCall record a backend call
func (m *GatewayMetrics) BackendCall(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.backendCallsTotal.WithLabelValues(operation, outcome).Inc()
	m.backendLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}
