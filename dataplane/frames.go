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
	"strings"

	"github.com/alwitt/rtgateway/common"
	"github.com/go-playground/validator/v10"
)

// ControlMessage one parsed client control frame
//
// The set of implementations is closed: SubscribeMessage, UnsubscribeMessage,
// PingMessage, and UnknownMessage.
type ControlMessage interface {
	controlMessage()
	// Kind the message type, for logging and metrics
	Kind() string
}

// SubscribeMessage request to join a topic
type SubscribeMessage struct {
	Topic string
}

// UnsubscribeMessage request to leave a topic
type UnsubscribeMessage struct {
	Topic string
}

// PingMessage application level ping
type PingMessage struct{}

// UnknownMessage well formed frame with an unrecognized type
type UnknownMessage struct {
	Type string
	Raw  []byte
}

func (SubscribeMessage) controlMessage()   {}
func (UnsubscribeMessage) controlMessage() {}
func (PingMessage) controlMessage()        {}
func (UnknownMessage) controlMessage()     {}

// Kind the message type
func (SubscribeMessage) Kind() string { return common.FrameTypeSubscribe }

// Kind the message type
func (UnsubscribeMessage) Kind() string { return common.FrameTypeUnsubscribe }

// Kind the message type
func (PingMessage) Kind() string { return common.FrameTypePing }

// Kind the message type
func (UnknownMessage) Kind() string { return "unknown" }

// topicFrame subscribe / unsubscribe frame content
type topicFrame struct {
	Service string `validate:"required,max=128,printascii"`
}

var frameValidator = validator.New()

// ParseControlFrame parse one raw client frame
func ParseControlFrame(raw []byte) (ControlMessage, error) {
	var frame common.ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, common.ErrMalformedFrame("Invalid JSON frame", err)
	}
	frameType := strings.TrimSpace(frame.Type)
	if frameType == "" {
		return nil, common.ErrMalformedFrame("Frame is missing 'type'", nil)
	}
	switch frameType {
	case common.FrameTypeSubscribe, common.FrameTypeUnsubscribe:
		topic := topicFrame{Service: frame.Service}
		if err := frameValidator.Struct(&topic); err != nil {
			return nil, common.ErrMalformedFrame(
				fmt.Sprintf("Frame '%s' requires a valid 'service'", frameType), err,
			)
		}
		if frameType == common.FrameTypeSubscribe {
			return SubscribeMessage{Topic: topic.Service}, nil
		}
		return UnsubscribeMessage{Topic: topic.Service}, nil
	case common.FrameTypePing:
		return PingMessage{}, nil
	default:
		return UnknownMessage{Type: frameType, Raw: raw}, nil
	}
}
