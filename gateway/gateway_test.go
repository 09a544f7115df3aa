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

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alwitt/rtgateway/auth"
	"github.com/alwitt/rtgateway/backend"
	"github.com/alwitt/rtgateway/common"
	"github.com/alwitt/rtgateway/registry"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeTransport struct {
	lock   sync.Mutex
	frames []map[string]interface{}
	closed bool
	broken bool
}

func (t *fakeTransport) Send(frame []byte) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed || t.broken {
		return fmt.Errorf("transport unavailable")
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(frame, &parsed); err != nil {
		return err
	}
	t.frames = append(t.frames, parsed)
	return nil
}

func (t *fakeTransport) Probe() error { return nil }

func (t *fakeTransport) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) received() []map[string]interface{} {
	t.lock.Lock()
	defer t.lock.Unlock()
	result := make([]map[string]interface{}, len(t.frames))
	copy(result, t.frames)
	return result
}

func (t *fakeTransport) isClosed() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.closed
}

// stallingTransport accepts frames until stalled; once stalled every send
// fails and Close blocks until released
type stallingTransport struct {
	stalled atomic.Bool
	release chan struct{}
}

func (t *stallingTransport) Send([]byte) error {
	if t.stalled.Load() {
		return fmt.Errorf("send queue full")
	}
	return nil
}

func (t *stallingTransport) Probe() error { return nil }

func (t *stallingTransport) Close() error {
	if t.stalled.Load() {
		<-t.release
	}
	return nil
}

// slowBackend blocks until the call context ends
type slowBackend struct{}

func (slowBackend) Invoke(ctxt context.Context, _ backend.Request) (backend.Envelope, error) {
	<-ctxt.Done()
	return backend.Envelope{}, ctxt.Err()
}

func (slowBackend) Ready(context.Context) error { return fmt.Errorf("never ready") }

func defineGateway(
	t *testing.T, ctxt context.Context, wg *sync.WaitGroup, service backend.Service, maxConns int,
) *Gateway {
	uut, err := NewGateway(ctxt, wg, Options{
		Instance:          "testing",
		MaxConnections:    maxConns,
		IdleTimeout:       time.Minute,
		ProbeTimeout:      time.Minute,
		PublishQueueDepth: 16,
		BackendTimeout:    time.Millisecond * 200,
		Handshake:         auth.NewOpenHandshakeVerifier(),
		Backend:           service,
	})
	require.Nil(t, err)
	require.Nil(t, uut.Start())
	return uut
}

func TestGatewayScenario(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)
	defer goleak.VerifyNone(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	memory, err := backend.NewMemoryBackend("testing", 10)
	assert.Nil(err)
	uut := defineGateway(t, ctxt, &wg, memory, 0)
	defer uut.Shutdown()

	tX := &fakeTransport{}
	tY := &fakeTransport{}

	// Case 0: connect sends the greeting
	idX, err := uut.Connect(tX, registry.RemoteInfo{RemoteAddr: "10.1.1.1"})
	assert.Nil(err)
	idY, err := uut.Connect(tY, registry.RemoteInfo{RemoteAddr: "10.1.1.2"})
	assert.Nil(err)
	{
		frames := tX.received()
		assert.Len(frames, 1)
		assert.Equal("connected", frames[0]["type"])
		assert.Equal(idX, frames[0]["connectionId"])
	}

	// Case 1: X subscribes
	assert.Nil(uut.HandleFrame(idX, []byte(`{"type":"subscribe","service":"containerApps"}`)))
	assert.Len(tX.received(), 2)

	// Case 2: create a container app
	op, ok := backend.LookupOperation("containerApps.create")
	assert.True(ok)
	envelope, err := uut.Execute(ctxt, op, backend.Request{
		Body: json.RawMessage(`{"name":"web","image":"nginx"}`), Subject: "alice",
	})
	assert.Nil(err)
	assert.True(envelope.Success)

	// Case 3: X receives exactly one event, Y nothing beyond its greeting
	assert.Eventually(func() bool { return len(tX.received()) == 3 }, time.Second, time.Millisecond*5)
	time.Sleep(time.Millisecond * 50)
	{
		frames := tX.received()
		assert.Len(frames, 3)
		event := frames[2]
		assert.Equal("container_app_created", event["type"])
		data, ok := event["data"].(map[string]interface{})
		assert.True(ok)
		assert.Equal("containerApps.create", data["operation"])
		assert.Equal("alice", data["actor"])
		resource, ok := data["resource"].(map[string]interface{})
		assert.True(ok)
		assert.Equal("web", resource["name"])
	}
	assert.Len(tY.received(), 1)

	// Case 4: read-only operations do not broadcast
	op, _ = backend.LookupOperation("containerApps.list")
	envelope, err = uut.Execute(ctxt, op, backend.Request{})
	assert.Nil(err)
	assert.True(envelope.Success)

	// Case 5: failed mutations do not broadcast
	op, _ = backend.LookupOperation("containerApps.delete")
	envelope, err = uut.Execute(ctxt, op, backend.Request{Params: map[string]string{"name": "nope"}})
	assert.Nil(err)
	assert.False(envelope.Success)
	time.Sleep(time.Millisecond * 50)
	assert.Len(tX.received(), 3)

	// Case 6: stats
	stats := uut.Stats()
	assert.Equal(2, stats.Connections)
	assert.Equal(2, stats.Monitored)
	assert.Equal(map[string]int{"containerApps": 1}, stats.Topics)

	// Case 7: disconnect X, twice
	uut.Disconnect(idX, "client_closed")
	uut.Disconnect(idX, "client_closed")
	assert.True(tX.isClosed())
	stats = uut.Stats()
	assert.Equal(1, stats.Connections)
	assert.Equal(1, stats.Monitored)
	assert.Empty(stats.Topics)

	// Case 8: shutdown closes everything else
	uut.Shutdown()
	assert.True(tY.isClosed())
	_, ok = uut.Registry().Get(idY)
	assert.False(ok)
}

func TestGatewayBackendTimeout(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	uut := defineGateway(t, ctxt, &wg, slowBackend{}, 0)
	defer uut.Shutdown()

	// Case 0: a hung backend becomes a downstream timeout
	op, _ := backend.LookupOperation("maps.geocode")
	startTime := time.Now()
	_, err := uut.Execute(ctxt, op, backend.Request{})
	assert.NotNil(err)
	assert.Less(time.Since(startTime), time.Second)
	gwErr, ok := common.AsGatewayError(err)
	assert.True(ok)
	assert.Equal(common.CodeDownstreamTimeout, gwErr.Code)

	// Case 1: readiness is the backend's
	assert.NotNil(uut.Ready(ctxt))
}

func TestGatewayConnectionLimit(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	memory, _ := backend.NewMemoryBackend("testing", 10)
	uut := defineGateway(t, ctxt, &wg, memory, 1)
	defer uut.Shutdown()

	// Case 0: the second connection is refused and its transport closed
	_, err := uut.Connect(&fakeTransport{}, registry.RemoteInfo{})
	assert.Nil(err)
	rejected := &fakeTransport{}
	_, err = uut.Connect(rejected, registry.RemoteInfo{})
	assert.ErrorIs(err, registry.ErrRegistryFull)
	assert.True(rejected.isClosed())

	// Case 1: a transport failing the greeting is not kept
	broken := &fakeTransport{broken: true}
	uut.Disconnect(uut.Registry().IDs()[0], "test")
	_, err = uut.Connect(broken, registry.RemoteInfo{})
	assert.NotNil(err)
	assert.Equal(0, uut.Stats().Connections)
	assert.Equal(0, uut.Stats().Monitored)
}

func TestGatewayAuthenticate(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	memory, _ := backend.NewMemoryBackend("testing", 10)
	uut := defineGateway(t, ctxt, &wg, memory, 0)
	defer uut.Shutdown()

	// Case 0: no verifier configured rejects protected calls
	_, err := uut.Authenticate(nil)
	gwErr, ok := common.AsGatewayError(err)
	assert.True(ok)
	assert.Equal(common.CodeAuthTokenInvalid, gwErr.Code)

	// Case 1: admission disabled
	assert.Nil(uut.Admit("/api/maps", "1.2.3.4"))
}

func TestGatewayStalledSubscriber(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	memory, err := backend.NewMemoryBackend("testing", 10)
	require.Nil(err)
	uut, err := NewGateway(ctxt, &wg, Options{
		Instance:          "testing",
		IdleTimeout:       time.Minute,
		ProbeTimeout:      time.Minute,
		PublishQueueDepth: 1,
		PublishTimeout:    time.Millisecond * 50,
		BackendTimeout:    time.Second,
		Handshake:         auth.NewOpenHandshakeVerifier(),
		Backend:           memory,
	})
	require.Nil(err)
	require.Nil(uut.Start())
	defer uut.Shutdown()

	stuck := &stallingTransport{release: make(chan struct{})}
	healthy := &fakeTransport{}
	released := false
	defer func() {
		if !released {
			close(stuck.release)
		}
	}()

	idStuck, err := uut.Connect(stuck, registry.RemoteInfo{RemoteAddr: "10.1.1.1"})
	require.Nil(err)
	require.Nil(uut.HandleFrame(idStuck, []byte(`{"type":"subscribe","service":"containerApps"}`)))
	idHealthy, err := uut.Connect(healthy, registry.RemoteInfo{RemoteAddr: "10.1.1.2"})
	require.Nil(err)
	require.Nil(uut.HandleFrame(idHealthy, []byte(`{"type":"subscribe","service":"devops"}`)))
	require.Len(healthy.received(), 2)

	// Case 0: the stuck subscriber's removal parks the broadcast loop in Close
	stuck.stalled.Store(true)
	createOp, _ := backend.LookupOperation("containerApps.create")
	envelope, err := uut.Execute(ctxt, createOp, backend.Request{
		Body: json.RawMessage(`{"name":"web","image":"nginx"}`),
	})
	assert.Nil(err)
	assert.True(envelope.Success)
	assert.Eventually(func() bool {
		_, ok := uut.Registry().Get(idStuck)
		return !ok
	}, time.Second, time.Millisecond*5)

	// Case 1: mutations keep answering while the broadcast queue is backed up
	runOp, _ := backend.LookupOperation("devops.runPipeline")
	for itr := 0; itr < 4; itr++ {
		startTime := time.Now()
		envelope, err := uut.Execute(
			ctxt, runOp, backend.Request{Params: map[string]string{"id": "build"}},
		)
		assert.Nil(err)
		assert.True(envelope.Success)
		assert.Less(time.Since(startTime), time.Millisecond*500)
	}

	// Case 2: a direct broadcast to another topic is unaffected
	{
		startTime := time.Now()
		report, err := uut.Broadcast("devops", "pipeline_run_started", map[string]string{"id": "x"})
		assert.Nil(err)
		assert.Equal(1, report.Delivered)
		assert.Less(time.Since(startTime), time.Millisecond*100)
		assert.Len(healthy.received(), 3)
	}

	// Case 3: once the stuck close finishes, queued events still go out
	close(stuck.release)
	released = true
	assert.Eventually(func() bool {
		return len(healthy.received()) >= 4
	}, time.Second, time.Millisecond*5)
	assert.Equal("pipeline_run_started", healthy.received()[3]["type"])
}

func TestGatewayActorFromContextIdentity(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	memory, err := backend.NewMemoryBackend("testing", 10)
	assert.Nil(err)
	uut := defineGateway(t, ctxt, &wg, memory, 0)
	defer uut.Shutdown()

	watcher := &fakeTransport{}
	id, err := uut.Connect(watcher, registry.RemoteInfo{RemoteAddr: "10.1.1.1"})
	assert.Nil(err)
	assert.Nil(uut.HandleFrame(id, []byte(`{"type":"subscribe","service":"keyVault"}`)))

	// Case 0: the authenticated identity becomes the event actor
	op, _ := backend.LookupOperation("keyVault.putSecret")
	callCtxt := auth.WithIdentity(ctxt, auth.Identity{Subject: "bob"})
	envelope, err := uut.Execute(callCtxt, op, backend.Request{
		Params: map[string]string{"name": "db-password"},
		Body:   json.RawMessage(`{"value":"hunter2"}`),
	})
	assert.Nil(err)
	assert.True(envelope.Success)
	assert.Eventually(func() bool { return len(watcher.received()) == 3 }, time.Second, time.Millisecond*5)
	event := watcher.received()[2]
	assert.Equal("secret_updated", event["type"])
	data, ok := event["data"].(map[string]interface{})
	assert.True(ok)
	assert.Equal("bob", data["actor"])
}
