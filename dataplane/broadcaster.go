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
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/alwitt/rtgateway/common"
	"github.com/alwitt/rtgateway/registry"
	"github.com/apex/log"
)

// BroadcastReport outcome of one fan-out
type BroadcastReport struct {
	Topic       string
	Event       string
	Subscribers int
	Delivered   int
	Failed      int
}

// Broadcaster fans events out to topic subscribers
type Broadcaster interface {
	// Broadcast deliver an event to every current subscriber of a topic
	//
	// Each subscriber is attempted independently. A subscriber whose delivery
	// fails is removed from the registry.
	Broadcast(topic, event string, data interface{}) (BroadcastReport, error)
	// Publish queue an event for broadcast on the broadcaster's event loop
	Publish(ctxt context.Context, topic, event string, data interface{}) error
	// Start start the event loop backing Publish
	Start(wg *sync.WaitGroup) error
	// Stop stop the event loop. Queued events are dropped.
	Stop() error
}

type publishRequest struct {
	topic string
	event string
	data  interface{}
}

// broadcasterImpl implements Broadcaster
type broadcasterImpl struct {
	common.Component
	registry registry.Registry
	tp       common.TaskProcessor
	metrics  *common.GatewayMetrics
	now      func() time.Time
}

// GetBroadcaster define a new Broadcaster
func GetBroadcaster(
	ctxt context.Context,
	instance string,
	connections registry.Registry,
	queueDepth int,
	metrics *common.GatewayMetrics,
) (Broadcaster, error) {
	if connections == nil {
		return nil, fmt.Errorf("connection registry is required")
	}
	logTags := log.Fields{
		"module": "dataplane", "component": "broadcaster", "instance": instance,
	}
	tp, err := common.GetNewTaskProcessorInstance(ctxt, fmt.Sprintf("%s-publish", instance), queueDepth)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define task processor")
		return nil, err
	}
	instanceObj := &broadcasterImpl{
		Component: common.Component{LogTags: logTags},
		registry:  connections,
		tp:        tp,
		metrics:   metrics,
		now:       time.Now,
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(publishRequest{}), instanceObj.processPublish,
	); err != nil {
		return nil, err
	}
	return instanceObj, nil
}

// Start start the event loop backing Publish
func (b *broadcasterImpl) Start(wg *sync.WaitGroup) error {
	return b.tp.StartEventLoop(wg)
}

// Stop stop the event loop
func (b *broadcasterImpl) Stop() error {
	return b.tp.StopEventLoop()
}

// Publish queue an event for broadcast
func (b *broadcasterImpl) Publish(
	ctxt context.Context, topic, event string, data interface{},
) error {
	return b.tp.Submit(ctxt, publishRequest{topic: topic, event: event, data: data})
}

func (b *broadcasterImpl) processPublish(param interface{}) error {
	request, ok := param.(publishRequest)
	if !ok {
		return fmt.Errorf("unexpected publish request type %T", param)
	}
	_, err := b.Broadcast(request.topic, request.event, request.data)
	return err
}

// Broadcast deliver an event to every current subscriber of a topic
func (b *broadcasterImpl) Broadcast(
	topic, event string, data interface{},
) (BroadcastReport, error) {
	report := BroadcastReport{Topic: topic, Event: event}
	logTags := b.ChildLogTags(log.Fields{"topic": topic, "event": event})

	subscribers := b.registry.SubscribersOf(topic)
	report.Subscribers = len(subscribers)
	if len(subscribers) == 0 {
		return report, nil
	}

	// Encoded once for all subscribers
	frame := common.EventFrame{
		Type: event, Data: data, Timestamp: common.ISO8601Timestamp(b.now()),
	}
	encoded, err := frame.Encode()
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to encode event")
		return report, err
	}

	for _, connectionID := range subscribers {
		if err := b.registry.Send(connectionID, encoded); err != nil {
			report.Failed++
			log.WithError(err).WithFields(logTags).WithField("connection_id", connectionID).
				Info("Delivery failed, dropping subscriber")
			b.registry.Remove(connectionID, "delivery_failed")
			continue
		}
		report.Delivered++
	}
	b.metrics.Broadcast(topic, report.Delivered, report.Failed)
	log.WithFields(logTags).Debugf(
		"Delivered to %d of %d subscribers", report.Delivered, report.Subscribers,
	)
	return report, nil
}
