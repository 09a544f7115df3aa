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
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/alwitt/rtgateway/common"
	"github.com/alwitt/rtgateway/registry"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

// fakeTransport in-memory registry.Transport
type fakeTransport struct {
	lock    sync.Mutex
	frames  [][]byte
	probes  int
	closed  bool
	failing bool
}

func (t *fakeTransport) Send(frame []byte) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed || t.failing {
		return fmt.Errorf("transport unavailable")
	}
	t.frames = append(t.frames, frame)
	return nil
}

func (t *fakeTransport) Probe() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed || t.failing {
		return fmt.Errorf("transport unavailable")
	}
	t.probes++
	return nil
}

func (t *fakeTransport) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) received() []map[string]interface{} {
	t.lock.Lock()
	defer t.lock.Unlock()
	result := []map[string]interface{}{}
	for _, frame := range t.frames {
		var parsed map[string]interface{}
		if err := json.Unmarshal(frame, &parsed); err == nil {
			result = append(result, parsed)
		}
	}
	return result
}

func (t *fakeTransport) probeCount() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.probes
}

func (t *fakeTransport) isClosed() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.closed
}

func TestParseControlFrame(t *testing.T) {
	assert := assert.New(t)

	// Case 0: subscribe
	{
		msg, err := ParseControlFrame([]byte(`{"type":"subscribe","service":"containerApps"}`))
		assert.Nil(err)
		assert.Equal(SubscribeMessage{Topic: "containerApps"}, msg)
	}

	// Case 1: unsubscribe
	{
		msg, err := ParseControlFrame([]byte(`{"type":"unsubscribe","service":"maps"}`))
		assert.Nil(err)
		assert.Equal(UnsubscribeMessage{Topic: "maps"}, msg)
	}

	// Case 2: ping, extra fields ignored
	{
		msg, err := ParseControlFrame([]byte(`{"type":"ping","service":"x"}`))
		assert.Nil(err)
		assert.Equal(PingMessage{}, msg)
	}

	// Case 3: unknown type
	{
		raw := []byte(`{"type":"hello"}`)
		msg, err := ParseControlFrame(raw)
		assert.Nil(err)
		assert.Equal(UnknownMessage{Type: "hello", Raw: raw}, msg)
	}

	// Case 4: not JSON
	{
		_, err := ParseControlFrame([]byte(`not json`))
		assert.NotNil(err)
		gwErr, ok := common.AsGatewayError(err)
		assert.True(ok)
		assert.Equal(common.KindMalformedFrame, gwErr.Kind)
	}

	// Case 5: missing type
	{
		_, err := ParseControlFrame([]byte(`{"service":"maps"}`))
		assert.NotNil(err)
	}

	// Case 6: subscribe without a topic
	{
		_, err := ParseControlFrame([]byte(`{"type":"subscribe"}`))
		assert.NotNil(err)
	}

	// Case 7: topic of the wrong JSON type
	{
		_, err := ParseControlFrame([]byte(`{"type":"subscribe","service":12}`))
		assert.NotNil(err)
	}
}

func TestMessageRouter(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	connections, err := registry.GetConnectionRegistry("testing", 0, nil)
	assert.Nil(err)
	uut, err := GetMessageRouter("testing", connections, nil, nil)
	assert.Nil(err)

	tA := &fakeTransport{}
	tB := &fakeTransport{}
	idA, err := connections.Register(tA, registry.RemoteInfo{})
	assert.Nil(err)
	idB, err := connections.Register(tB, registry.RemoteInfo{})
	assert.Nil(err)

	// Case 0: subscribe
	assert.Nil(uut.Route(idA, []byte(`{"type":"subscribe","service":"containerApps"}`)))
	{
		frames := tA.received()
		assert.Len(frames, 1)
		assert.Equal("subscribed", frames[0]["type"])
		assert.Equal("containerApps", frames[0]["service"])
		assert.NotEmpty(frames[0]["timestamp"])
	}
	assert.Equal([]string{idA}, connections.SubscribersOf("containerApps"))

	// Case 1: ping
	assert.Nil(uut.Route(idA, []byte(`{"type":"ping"}`)))
	{
		frames := tA.received()
		assert.Len(frames, 2)
		assert.Equal("pong", frames[1]["type"])
	}

	// Case 2: malformed frame is answered only on the originating connection
	assert.Nil(uut.Route(idA, []byte(`{{{`)))
	{
		frames := tA.received()
		assert.Len(frames, 3)
		assert.Equal("error", frames[2]["type"])
		assert.NotEmpty(frames[2]["message"])
	}
	assert.Empty(tB.received())

	// Case 3: unknown type
	assert.Nil(uut.Route(idB, []byte(`{"type":"teleport"}`)))
	{
		frames := tB.received()
		assert.Len(frames, 1)
		assert.Equal("error", frames[0]["type"])
		assert.Contains(frames[0]["message"], "teleport")
	}

	// Case 4: unsubscribe twice
	assert.Nil(uut.Route(idA, []byte(`{"type":"unsubscribe","service":"containerApps"}`)))
	assert.Nil(uut.Route(idA, []byte(`{"type":"unsubscribe","service":"containerApps"}`)))
	{
		frames := tA.received()
		assert.Len(frames, 5)
		assert.Equal("unsubscribed", frames[3]["type"])
		assert.Equal("unsubscribed", frames[4]["type"])
	}
	assert.Empty(connections.Topics())

	// Case 5: unknown connection
	assert.ErrorIs(uut.Route("ghost", []byte(`{"type":"ping"}`)), registry.ErrUnknownConnection)

	// Case 6: reply delivery failure drops the connection
	tB.lock.Lock()
	tB.failing = true
	tB.lock.Unlock()
	assert.NotNil(uut.Route(idB, []byte(`{"type":"ping"}`)))
	_, ok := connections.Get(idB)
	assert.False(ok)
}
