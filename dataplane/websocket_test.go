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
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketSession(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	sessions := make(chan *WebSocketSession, 1)
	runResult := make(chan error, 1)
	var pongs atomic.Int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		session, err := NewWebSocketSession(conn, WebSocketSessionParam{
			SendQueueDepth: 4, WriteTimeout: time.Second, MaxMessageBytes: 64,
		}, log.Fields{"module": "dataplane_test"})
		if err != nil {
			_ = conn.Close()
			return
		}
		sessions <- session
		runResult <- session.Run(func(frame []byte) {
			// Echo, upper cased
			_ = session.Send([]byte(strings.ToUpper(string(frame))))
		}, func() {
			pongs.Add(1)
		})
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Nil(err)
	defer client.Close()

	var session *WebSocketSession
	select {
	case session = <-sessions:
	case <-time.After(time.Second):
		require.FailNow("no session established")
	}

	// Case 0: inbound frame reaches the handler, reply goes out through the pump
	assert.Nil(client.WriteMessage(websocket.TextMessage, []byte("hello")))
	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := client.ReadMessage()
	assert.Nil(err)
	assert.Equal("HELLO", string(msg))

	// Case 1: frames sent back to back arrive in order
	for _, frame := range []string{"1", "2", "3"} {
		assert.Nil(session.Send([]byte(frame)))
	}
	for _, expected := range []string{"1", "2", "3"} {
		_, msg, err := client.ReadMessage()
		assert.Nil(err)
		assert.Equal(expected, string(msg))
	}

	// Case 2: probe is answered by the client's default ping handler
	assert.Nil(session.Probe())
	go func() {
		// Control frames are only processed while the client reads
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()
	assert.Eventually(func() bool { return pongs.Load() >= 1 }, time.Second, time.Millisecond*5)

	// Case 3: closing locally ends Run cleanly
	assert.Nil(session.Close())
	assert.True(session.Closed())
	assert.Nil(session.Close())
	select {
	case err := <-runResult:
		assert.Nil(err)
	case <-time.After(time.Second):
		assert.Fail("Run did not return")
	}

	// Case 4: closed session refuses frames
	assert.ErrorIs(session.Send([]byte("late")), ErrSessionClosed)
	assert.ErrorIs(session.Probe(), ErrSessionClosed)
}

func TestWebSocketSessionOversizedFrame(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	runResult := make(chan error, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		session, _ := NewWebSocketSession(conn, WebSocketSessionParam{
			SendQueueDepth: 1, WriteTimeout: time.Second, MaxMessageBytes: 16,
		}, log.Fields{})
		runResult <- session.Run(func([]byte) {}, nil)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Nil(err)
	defer client.Close()

	// Case 0: a frame beyond the read limit terminates the session
	assert.Nil(client.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 128))))
	select {
	case err := <-runResult:
		assert.NotNil(err)
	case <-time.After(time.Second * 2):
		assert.Fail("Run did not return")
	}
}

func TestWebSocketSessionCloseWithStalledWriter(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	sessions := make(chan *WebSocketSession, 1)
	runResult := make(chan error, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		session, _ := NewWebSocketSession(conn, WebSocketSessionParam{
			SendQueueDepth: 1, WriteTimeout: time.Second * 10,
		}, log.Fields{})
		sessions <- session
		runResult <- session.Run(func([]byte) {}, nil)
	}))
	defer server.Close()

	// The client never reads, so the socket buffers eventually fill
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Nil(err)
	defer client.Close()

	var session *WebSocketSession
	select {
	case session = <-sessions:
	case <-time.After(time.Second):
		require.FailNow("no session established")
	}

	// Case 0: wait until the write pump is stuck on a full connection
	frame := bytes.Repeat([]byte("x"), 1<<18)
	stalled := false
	for deadline := time.Now().Add(time.Second * 5); !stalled && time.Now().Before(deadline); {
		if session.Send(frame) == ErrSendQueueFull {
			time.Sleep(time.Millisecond * 200)
			stalled = session.Send(frame) == ErrSendQueueFull
		}
	}
	require.True(stalled)

	// Case 1: close returns without waiting on the stuck writer
	startTime := time.Now()
	assert.Nil(session.Close())
	assert.Less(time.Since(startTime), time.Millisecond*100)
	assert.True(session.Closed())

	// Case 2: the connection is torn down within the grace period
	select {
	case err := <-runResult:
		assert.Nil(err)
	case <-time.After(closeGracePeriod + time.Second):
		assert.Fail("Run did not return")
	}
}

func TestWebSocketSessionParams(t *testing.T) {
	assert := assert.New(t)

	// Case 0: no connection
	_, err := NewWebSocketSession(nil, WebSocketSessionParam{
		SendQueueDepth: 1, WriteTimeout: time.Second,
	}, log.Fields{})
	assert.NotNil(err)
}
