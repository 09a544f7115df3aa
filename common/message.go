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
	"encoding/json"
	"time"
)

// Control frame types sent by the client
const (
	FrameTypeSubscribe   = "subscribe"
	FrameTypeUnsubscribe = "unsubscribe"
	FrameTypePing        = "ping"
)

// Frame types sent by the server outside of event broadcasts
const (
	FrameTypeConnected    = "connected"
	FrameTypeSubscribed   = "subscribed"
	FrameTypeUnsubscribed = "unsubscribed"
	FrameTypePong         = "pong"
	FrameTypeError        = "error"
)

// ClientFrame is the raw shape of a control frame sent by a client
type ClientFrame struct {
	// Type is the control message type
	Type string `json:"type"`
	// Service is the topic for subscribe / unsubscribe
	Service string `json:"service,omitempty"`
}

// ServerFrame is a control plane reply sent by the gateway to one connection
type ServerFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId,omitempty"`
	Service      string `json:"service,omitempty"`
	Message      string `json:"message,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// EventFrame is a broadcast event delivered to topic subscribers
type EventFrame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// NewServerFrame define a ServerFrame stamped with the current time
func NewServerFrame(frameType string, at time.Time) ServerFrame {
	return ServerFrame{Type: frameType, Timestamp: ISO8601Timestamp(at)}
}

// Encode serialize the frame for transmission
func (f ServerFrame) Encode() ([]byte, error) {
	return json.Marshal(&f)
}

// Encode serialize the frame for transmission
func (f EventFrame) Encode() ([]byte, error) {
	return json.Marshal(&f)
}
