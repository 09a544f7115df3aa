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

package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alwitt/rtgateway/common"
	"github.com/apex/log"
	"github.com/google/uuid"
)

// ErrUnknownConnection the connection ID is not registered
var ErrUnknownConnection = errors.New("unknown connection")

// ErrRegistryFull the registry is at its connection limit
var ErrRegistryFull = errors.New("connection registry full")

// Transport is the underlying channel of one connection
type Transport interface {
	// Send queue one frame for delivery. Frames are delivered in call order.
	Send(frame []byte) error
	// Probe send a keepalive probe
	Probe() error
	// Close close the channel. Must be safe to call more than once.
	Close() error
}

// RemoteInfo describes the client end of a connection
type RemoteInfo struct {
	RemoteAddr string
	UserAgent  string
	// Subject is the identity established at handshake, if any
	Subject string
}

// Connection one live persistent connection, owned by the Registry
type Connection struct {
	id           string
	createdAt    time.Time
	lastActivity atomic.Int64
	remote       RemoteInfo
	transport    Transport
	closeOnce    sync.Once
}

// ID the connection ID
func (c *Connection) ID() string {
	return c.id
}

// CreatedAt when the connection was registered
func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

// LastActivity when the connection last showed activity
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// RemoteAddr the client address
func (c *Connection) RemoteAddr() string {
	return c.remote.RemoteAddr
}

// UserAgent the client agent string
func (c *Connection) UserAgent() string {
	return c.remote.UserAgent
}

// Subject the handshake identity
func (c *Connection) Subject() string {
	return c.remote.Subject
}

// LogParam connection parameters for log tagging
func (c *Connection) LogParam() common.ConnectionParam {
	return common.ConnectionParam{
		ID:         c.id,
		RemoteAddr: c.remote.RemoteAddr,
		UserAgent:  c.remote.UserAgent,
		Subject:    c.remote.Subject,
	}
}

func (c *Connection) touch(at time.Time) {
	c.lastActivity.Store(at.UnixNano())
}

func (c *Connection) close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.transport.Close()
	})
	return err
}

// RemovalHandler is notified after a connection is removed from the registry
type RemovalHandler func(connectionID string, reason string)

// Registry the set of live connections and their subscriptions
type Registry interface {
	// Register add a connection. On error the caller must close the transport.
	Register(transport Transport, remote RemoteInfo) (string, error)
	// Touch mark activity on a connection. Returns false for unknown IDs.
	Touch(connectionID string) bool
	// Get fetch a connection
	Get(connectionID string) (*Connection, bool)
	// Remove drop a connection, its subscriptions, and close its transport.
	//
	// Idempotent; returns false if the connection was not registered.
	Remove(connectionID string, reason string) bool
	// Subscribe subscribe a registered connection to a topic
	Subscribe(connectionID, topic string) error
	// Unsubscribe unsubscribe a registered connection from a topic
	Unsubscribe(connectionID, topic string) error
	// SubscribersOf snapshot of the connections subscribed to a topic
	SubscribersOf(topic string) []string
	// TopicsOf snapshot of the topics a connection is subscribed to
	TopicsOf(connectionID string) []string
	// Topics snapshot of all topics with subscribers
	Topics() []string
	// Send deliver a frame to one connection
	Send(connectionID string, frame []byte) error
	// Probe send a keepalive probe to one connection
	Probe(connectionID string) error
	// Count number of live connections
	Count() int
	// IDs snapshot of the live connection IDs
	IDs() []string
	// OnRemove register a RemovalHandler
	OnRemove(handler RemovalHandler)
}

// registryImpl implements Registry
type registryImpl struct {
	common.Component
	lock           sync.RWMutex
	connections    map[string]*Connection
	index          *SubscriptionIndex
	maxConnections int
	removeHandlers []RemovalHandler
	metrics        *common.GatewayMetrics
	now            func() time.Time
}

// GetConnectionRegistry define a new connection Registry
//
// maxConnections of 0 means no limit.
func GetConnectionRegistry(
	instance string, maxConnections int, metrics *common.GatewayMetrics,
) (Registry, error) {
	if maxConnections < 0 {
		return nil, fmt.Errorf("max connections can not be negative")
	}
	logTags := log.Fields{
		"module": "registry", "component": "connection-registry", "instance": instance,
	}
	return &registryImpl{
		Component:      common.Component{LogTags: logTags},
		connections:    make(map[string]*Connection),
		index:          NewSubscriptionIndex(),
		maxConnections: maxConnections,
		metrics:        metrics,
		now:            time.Now,
	}, nil
}

// Register add a connection
func (r *registryImpl) Register(transport Transport, remote RemoteInfo) (string, error) {
	if transport == nil {
		return "", fmt.Errorf("transport is required")
	}
	r.lock.Lock()
	if r.maxConnections > 0 && len(r.connections) >= r.maxConnections {
		r.lock.Unlock()
		log.WithFields(r.LogTags).Warnf(
			"Rejecting connection from %s: limit %d reached", remote.RemoteAddr, r.maxConnections,
		)
		return "", ErrRegistryFull
	}
	now := r.now()
	conn := &Connection{
		id:        uuid.NewString(),
		createdAt: now,
		remote:    remote,
		transport: transport,
	}
	conn.touch(now)
	r.connections[conn.id] = conn
	r.lock.Unlock()

	r.metrics.ConnectionOpened()
	logTags := r.ChildLogTags(nil)
	conn.LogParam().UpdateLogTags(logTags)
	log.WithFields(logTags).Debug("Registered connection")
	return conn.id, nil
}

// Touch mark activity on a connection
func (r *registryImpl) Touch(connectionID string) bool {
	r.lock.RLock()
	conn, ok := r.connections[connectionID]
	r.lock.RUnlock()
	if !ok {
		return false
	}
	conn.touch(r.now())
	return true
}

// Get fetch a connection
func (r *registryImpl) Get(connectionID string) (*Connection, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	conn, ok := r.connections[connectionID]
	return conn, ok
}

// Remove drop a connection
func (r *registryImpl) Remove(connectionID string, reason string) bool {
	r.lock.Lock()
	conn, ok := r.connections[connectionID]
	if !ok {
		r.lock.Unlock()
		return false
	}
	delete(r.connections, connectionID)
	// Cleanup happens under the registry lock so no subscribe can slip in between
	droppedTopics := r.index.RemoveAllFor(connectionID)
	topicCount := r.index.TopicCount()
	handlers := make([]RemovalHandler, len(r.removeHandlers))
	copy(handlers, r.removeHandlers)
	r.lock.Unlock()

	logTags := r.ChildLogTags(log.Fields{"reason": reason})
	conn.LogParam().UpdateLogTags(logTags)
	if err := conn.close(); err != nil {
		log.WithError(err).WithFields(logTags).Debug("Transport close reported error")
	}
	r.metrics.ConnectionClosed(reason)
	r.metrics.SetActiveTopics(topicCount)
	for _, handler := range handlers {
		handler(connectionID, reason)
	}
	log.WithFields(logTags).Debugf("Removed connection, dropped %d subscriptions", len(droppedTopics))
	return true
}

// Subscribe subscribe a registered connection to a topic
func (r *registryImpl) Subscribe(connectionID, topic string) error {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if _, ok := r.connections[connectionID]; !ok {
		return ErrUnknownConnection
	}
	if r.index.Subscribe(connectionID, topic) {
		r.metrics.SetActiveTopics(r.index.TopicCount())
	}
	return nil
}

// Unsubscribe unsubscribe a registered connection from a topic
func (r *registryImpl) Unsubscribe(connectionID, topic string) error {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if _, ok := r.connections[connectionID]; !ok {
		return ErrUnknownConnection
	}
	if r.index.Unsubscribe(connectionID, topic) {
		r.metrics.SetActiveTopics(r.index.TopicCount())
	}
	return nil
}

// SubscribersOf snapshot of the connections subscribed to a topic
func (r *registryImpl) SubscribersOf(topic string) []string {
	return r.index.SubscribersOf(topic)
}

// TopicsOf snapshot of the topics a connection is subscribed to
func (r *registryImpl) TopicsOf(connectionID string) []string {
	return r.index.TopicsOf(connectionID)
}

// Topics snapshot of all topics with subscribers
func (r *registryImpl) Topics() []string {
	return r.index.Topics()
}

// Send deliver a frame to one connection
func (r *registryImpl) Send(connectionID string, frame []byte) error {
	conn, ok := r.Get(connectionID)
	if !ok {
		return ErrUnknownConnection
	}
	if err := conn.transport.Send(frame); err != nil {
		return common.ErrConnectionLost(connectionID, err)
	}
	return nil
}

// Probe send a keepalive probe to one connection
func (r *registryImpl) Probe(connectionID string) error {
	conn, ok := r.Get(connectionID)
	if !ok {
		return ErrUnknownConnection
	}
	return conn.transport.Probe()
}

// Count number of live connections
func (r *registryImpl) Count() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.connections)
}

// IDs snapshot of the live connection IDs
func (r *registryImpl) IDs() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	result := make([]string, 0, len(r.connections))
	for id := range r.connections {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// OnRemove register a RemovalHandler
func (r *registryImpl) OnRemove(handler RemovalHandler) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.removeHandlers = append(r.removeHandlers, handler)
}
