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

package backend

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alwitt/rtgateway/common"
	"github.com/alwitt/rtgateway/core"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectForTest(t *testing.T) *core.NatsClient {
	logTags := log.Fields{"module": "backend_test", "component": "nats"}
	client, err := core.GetNatsClient(core.NATSConnectParams{
		ServerURI:           common.GetUnitTestNatsURI(),
		ConnectTimeout:      time.Second,
		MaxReconnectAttempt: 0,
		ReconnectWait:       time.Second,
		OnDisconnectCallback: func(_ *nats.Conn, e error) {
			if e != nil {
				log.WithError(e).WithFields(logTags).Error("Disconnect callback triggered with failure")
			}
		},
		OnReconnectCallback: func(_ *nats.Conn) {
			log.WithFields(logTags).Debug("Reconnected with NATs server")
		},
		OnCloseCallback: func(_ *nats.Conn) {
			log.WithFields(logTags).Debug("Disconnected from NATs server")
		},
	})
	require.Nil(t, err)
	deadline := time.Now().Add(time.Second * 2)
	for !client.Connected() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond * 50)
	}
	if !client.Connected() {
		client.Close(context.Background())
		t.Skipf("no NATS server at %s", common.GetUnitTestNatsURI())
	}
	return client
}

func TestNATSBackendRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	log.SetLevel(log.DebugLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := connectForTest(t)
	defer client.Close(ctxt)

	prefix := "ut." + uuid.NewString()
	memory, err := NewMemoryBackend("testing", 10)
	require.Nil(err)
	responder, err := GetNATSResponder(ctxt, client, prefix, "ut-workers", memory)
	require.Nil(err)
	require.Nil(responder.Start())
	assert.NotNil(responder.Start())
	defer func() {
		assert.Nil(responder.Stop())
	}()

	uut, err := GetNATSBackend(client, prefix)
	require.Nil(err)
	assert.Nil(uut.Ready(ctxt))

	// Case 0: create through NATS
	{
		callCtxt, callCancel := context.WithTimeout(ctxt, time.Second)
		envelope, err := uut.Invoke(callCtxt, Request{
			Operation: "containerApps.create",
			Body:      json.RawMessage(`{"name":"api","image":"api:2"}`),
		})
		callCancel()
		assert.Nil(err)
		assert.True(envelope.Success)
		var app ContainerApp
		assert.Nil(json.Unmarshal(envelope.Data, &app))
		assert.Equal("api", app.Name)
	}

	// Case 1: operation level failure passes through as an envelope
	{
		callCtxt, callCancel := context.WithTimeout(ctxt, time.Second)
		envelope, err := uut.Invoke(callCtxt, Request{
			Operation: "containerApps.get", Params: map[string]string{"name": "missing"},
		})
		callCancel()
		assert.Nil(err)
		assert.False(envelope.Success)
		assert.Equal(CodeNotFound, envelope.Error.Code)
	}
}

func TestNATSBackendNoResponder(t *testing.T) {
	assert := assert.New(t)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := connectForTest(t)
	defer client.Close(ctxt)

	uut, err := GetNATSBackend(client, "ut."+uuid.NewString())
	assert.Nil(err)

	// Case 0: nobody is listening, surfaced as a downstream error
	callCtxt, callCancel := context.WithTimeout(ctxt, time.Millisecond*500)
	defer callCancel()
	_, err = uut.Invoke(callCtxt, Request{Operation: "maps.geocode"})
	assert.NotNil(err)
	gwErr, ok := common.AsGatewayError(err)
	assert.True(ok)
	assert.Equal(common.KindDownstreamError, gwErr.Kind)
}

func TestNATSBackendParams(t *testing.T) {
	assert := assert.New(t)

	// Case 0: missing client
	_, err := GetNATSBackend(nil, "prefix")
	assert.NotNil(err)
	_, err = GetNATSResponder(context.Background(), nil, "prefix", "group", nil)
	assert.NotNil(err)
}
