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
	"time"

	"github.com/alwitt/rtgateway/common"
	"github.com/alwitt/rtgateway/registry"
	"github.com/apex/log"
)

// MessageRouter dispatches inbound client frames
type MessageRouter interface {
	// Route process one raw frame received on a connection
	//
	// Replies are delivered only to that connection.
	Route(connectionID string, raw []byte) error
}

// messageRouterImpl implements MessageRouter
type messageRouterImpl struct {
	common.Component
	registry registry.Registry
	liveness LivenessMonitor
	metrics  *common.GatewayMetrics
	now      func() time.Time
}

// GetMessageRouter define a new MessageRouter
//
// liveness may be nil when connections are not being monitored.
func GetMessageRouter(
	instance string,
	connections registry.Registry,
	liveness LivenessMonitor,
	metrics *common.GatewayMetrics,
) (MessageRouter, error) {
	if connections == nil {
		return nil, fmt.Errorf("connection registry is required")
	}
	logTags := log.Fields{
		"module": "dataplane", "component": "message-router", "instance": instance,
	}
	return &messageRouterImpl{
		Component: common.Component{LogTags: logTags},
		registry:  connections,
		liveness:  liveness,
		metrics:   metrics,
		now:       time.Now,
	}, nil
}

// Route process one raw frame received on a connection
func (r *messageRouterImpl) Route(connectionID string, raw []byte) error {
	if !r.registry.Touch(connectionID) {
		return registry.ErrUnknownConnection
	}
	if r.liveness != nil {
		r.liveness.Touch(connectionID)
	}
	logTags := r.ChildLogTags(log.Fields{"connection_id": connectionID})

	msg, err := ParseControlFrame(raw)
	if err != nil {
		r.metrics.ControlFrame("malformed")
		log.WithError(err).WithFields(logTags).Debug("Dropping malformed frame")
		message := "Invalid message format"
		if gwErr, ok := common.AsGatewayError(err); ok {
			message = gwErr.Message
		}
		return r.reply(connectionID, r.errorFrame(message))
	}
	r.metrics.ControlFrame(msg.Kind())

	var reply common.ServerFrame
	switch m := msg.(type) {
	case SubscribeMessage:
		if err := r.registry.Subscribe(connectionID, m.Topic); err != nil {
			return err
		}
		log.WithFields(logTags).Debugf("Subscribed to '%s'", m.Topic)
		reply = common.NewServerFrame(common.FrameTypeSubscribed, r.now())
		reply.Service = m.Topic

	case UnsubscribeMessage:
		if err := r.registry.Unsubscribe(connectionID, m.Topic); err != nil {
			return err
		}
		log.WithFields(logTags).Debugf("Unsubscribed from '%s'", m.Topic)
		reply = common.NewServerFrame(common.FrameTypeUnsubscribed, r.now())
		reply.Service = m.Topic

	case PingMessage:
		reply = common.NewServerFrame(common.FrameTypePong, r.now())

	case UnknownMessage:
		log.WithFields(logTags).Debugf("Unrecognized frame type '%s'", m.Type)
		reply = r.errorFrame(fmt.Sprintf("Unrecognized message type '%s'", m.Type))

	default:
		return fmt.Errorf("unhandled control message %T", msg)
	}
	return r.reply(connectionID, reply)
}

func (r *messageRouterImpl) errorFrame(message string) common.ServerFrame {
	frame := common.NewServerFrame(common.FrameTypeError, r.now())
	frame.Message = message
	return frame
}

// reply send a frame back on the originating connection
func (r *messageRouterImpl) reply(connectionID string, frame common.ServerFrame) error {
	encoded, err := frame.Encode()
	if err != nil {
		return err
	}
	if err := r.registry.Send(connectionID, encoded); err != nil {
		log.WithError(err).WithFields(r.ChildLogTags(log.Fields{"connection_id": connectionID})).
			Info("Reply delivery failed, dropping connection")
		r.registry.Remove(connectionID, "send_failed")
		return err
	}
	return nil
}
