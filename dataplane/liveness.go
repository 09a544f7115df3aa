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

package dataplane

import (
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/rtgateway/common"
	"github.com/apex/log"
)

// LivenessState liveness of one tracked connection
type LivenessState int

const (
	// LivenessActive connection showed activity within the idle timeout
	LivenessActive LivenessState = iota
	// LivenessProbed a probe was sent and no response has been seen yet
	LivenessProbed
	// LivenessDead the probe went unanswered
	LivenessDead
)

// String toString function
func (s LivenessState) String() string {
	switch s {
	case LivenessActive:
		return "active"
	case LivenessProbed:
		return "probed"
	case LivenessDead:
		return "dead"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ProbeFunc sends a keepalive probe to a connection
type ProbeFunc func(connectionID string) error

// DeadConnectionHandler called once when a connection is declared dead
type DeadConnectionHandler func(connectionID string)

// LivenessMonitor idle tracking and reaping of connections
type LivenessMonitor interface {
	// Track start monitoring a connection
	Track(connectionID string) error
	// Touch record activity (any inbound frame or probe response) on a connection
	Touch(connectionID string)
	// Stop stop monitoring a connection, releasing its timer
	Stop(connectionID string)
	// State current liveness state of a tracked connection
	State(connectionID string) (LivenessState, bool)
	// Tracked number of connections being monitored
	Tracked() int
	// StopAll stop monitoring every connection
	StopAll()
}

type livenessEntry struct {
	timer        *time.Timer
	state        LivenessState
	lastActivity time.Time
	probeSentAt  time.Time
}

// livenessMonitorImpl implements LivenessMonitor
type livenessMonitorImpl struct {
	common.Component
	lock         sync.Mutex
	entries      map[string]*livenessEntry
	idleTimeout  time.Duration
	probeTimeout time.Duration
	probe        ProbeFunc
	onDead       DeadConnectionHandler
	metrics      *common.GatewayMetrics
	now          func() time.Time
}

// GetLivenessMonitor define a new LivenessMonitor
func GetLivenessMonitor(
	instance string,
	idleTimeout, probeTimeout time.Duration,
	probe ProbeFunc,
	onDead DeadConnectionHandler,
	metrics *common.GatewayMetrics,
) (LivenessMonitor, error) {
	if idleTimeout <= 0 || probeTimeout <= 0 {
		return nil, fmt.Errorf("liveness timeouts must be positive")
	}
	if probe == nil || onDead == nil {
		return nil, fmt.Errorf("probe and dead connection handlers are required")
	}
	logTags := log.Fields{
		"module": "dataplane", "component": "liveness-monitor", "instance": instance,
	}
	return &livenessMonitorImpl{
		Component:    common.Component{LogTags: logTags},
		entries:      make(map[string]*livenessEntry),
		idleTimeout:  idleTimeout,
		probeTimeout: probeTimeout,
		probe:        probe,
		onDead:       onDead,
		metrics:      metrics,
		now:          time.Now,
	}, nil
}

// Track start monitoring a connection
func (m *livenessMonitorImpl) Track(connectionID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.entries[connectionID]; ok {
		return fmt.Errorf("connection %s is already tracked", connectionID)
	}
	entry := &livenessEntry{state: LivenessActive, lastActivity: m.now()}
	entry.timer = time.AfterFunc(m.idleTimeout, func() {
		m.evaluate(connectionID, entry)
	})
	m.entries[connectionID] = entry
	return nil
}

// Touch record activity on a connection
func (m *livenessMonitorImpl) Touch(connectionID string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	entry, ok := m.entries[connectionID]
	if !ok {
		return
	}
	entry.lastActivity = m.now()
	if entry.state == LivenessProbed {
		entry.state = LivenessActive
		entry.timer.Reset(m.idleTimeout)
	}
}

// Stop stop monitoring a connection
func (m *livenessMonitorImpl) Stop(connectionID string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if entry, ok := m.entries[connectionID]; ok {
		entry.timer.Stop()
		delete(m.entries, connectionID)
	}
}

// StopAll stop monitoring every connection
func (m *livenessMonitorImpl) StopAll() {
	m.lock.Lock()
	defer m.lock.Unlock()
	for connectionID, entry := range m.entries {
		entry.timer.Stop()
		delete(m.entries, connectionID)
	}
}

// State current liveness state of a tracked connection
func (m *livenessMonitorImpl) State(connectionID string) (LivenessState, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if entry, ok := m.entries[connectionID]; ok {
		return entry.state, true
	}
	return LivenessDead, false
}

// Tracked number of connections being monitored
func (m *livenessMonitorImpl) Tracked() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.entries)
}

// evaluate timer callback for one connection
func (m *livenessMonitorImpl) evaluate(connectionID string, entry *livenessEntry) {
	m.lock.Lock()
	// A stopped or re-tracked connection has a different entry
	if current, ok := m.entries[connectionID]; !ok || current != entry {
		m.lock.Unlock()
		return
	}
	now := m.now()
	switch entry.state {
	case LivenessActive:
		idleFor := now.Sub(entry.lastActivity)
		if idleFor < m.idleTimeout {
			entry.timer.Reset(m.idleTimeout - idleFor)
			m.lock.Unlock()
			return
		}
		entry.state = LivenessProbed
		entry.probeSentAt = now
		entry.timer.Reset(m.probeTimeout)
		m.lock.Unlock()

		logTags := m.ChildLogTags(log.Fields{"connection_id": connectionID})
		log.WithFields(logTags).Debugf("Idle for %s, sending probe", idleFor)
		m.metrics.LivenessProbe()
		if err := m.probe(connectionID); err != nil {
			log.WithError(err).WithFields(logTags).Info("Probe failed")
			m.declareDead(connectionID, entry)
		}

	case LivenessProbed:
		if entry.lastActivity.After(entry.probeSentAt) {
			entry.state = LivenessActive
			entry.timer.Reset(m.idleTimeout - now.Sub(entry.lastActivity))
			m.lock.Unlock()
			return
		}
		m.lock.Unlock()
		log.WithFields(m.ChildLogTags(log.Fields{"connection_id": connectionID})).Infof(
			"No probe response within %s", m.probeTimeout,
		)
		m.declareDead(connectionID, entry)

	default:
		m.lock.Unlock()
	}
}

// declareDead mark a connection dead and hand it to the dead connection handler
func (m *livenessMonitorImpl) declareDead(connectionID string, entry *livenessEntry) {
	m.lock.Lock()
	if current, ok := m.entries[connectionID]; !ok || current != entry {
		m.lock.Unlock()
		return
	}
	entry.state = LivenessDead
	entry.timer.Stop()
	delete(m.entries, connectionID)
	m.lock.Unlock()
	m.onDead(connectionID)
}
