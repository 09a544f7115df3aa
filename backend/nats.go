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
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/alwitt/rtgateway/common"
	"github.com/alwitt/rtgateway/core"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// OperationSubject the NATS subject an operation is requested on
func OperationSubject(prefix, operation string) string {
	return fmt.Sprintf("%s.%s", prefix, operation)
}

// natsBackend implements Service with NATS request / reply
type natsBackend struct {
	common.Component
	client *core.NatsClient
	prefix string
}

// GetNATSBackend define a Service which forwards each operation over NATS
//
// Each operation is requested on "<subjectPrefix>.<operation>" with a JSON
// encoded Request; the reply must be a JSON encoded Envelope.
func GetNATSBackend(client *core.NatsClient, subjectPrefix string) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("NATS client is required")
	}
	if subjectPrefix == "" {
		return nil, fmt.Errorf("subject prefix is required")
	}
	logTags := log.Fields{
		"module": "backend", "component": "nats-backend", "instance": subjectPrefix,
	}
	return &natsBackend{
		Component: common.Component{LogTags: logTags},
		client:    client,
		prefix:    subjectPrefix,
	}, nil
}

// Invoke perform one operation
func (b *natsBackend) Invoke(ctxt context.Context, req Request) (Envelope, error) {
	subject := OperationSubject(b.prefix, req.Operation)
	logTags := b.ChildLogTags(log.Fields{"subject": subject})

	payload, err := json.Marshal(&req)
	if err != nil {
		return Envelope{}, common.ErrBadRequest("Request could not be encoded", err)
	}

	reply, err := b.client.NATs().RequestWithContext(ctxt, subject, payload)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Backend request failed")
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			return Envelope{}, common.ErrDownstream(
				http.StatusBadGateway, common.CodeDownstreamTimeout, "Backend service timed out", err,
			)
		case errors.Is(err, nats.ErrNoResponders):
			return Envelope{}, common.ErrDownstream(
				http.StatusBadGateway, common.CodeDownstreamError, "Backend service unavailable", err,
			)
		default:
			return Envelope{}, common.ErrDownstream(
				http.StatusBadGateway, common.CodeDownstreamError, "Backend service call failed", err,
			)
		}
	}

	var envelope Envelope
	if err := json.Unmarshal(reply.Data, &envelope); err != nil {
		log.WithError(err).WithFields(logTags).Error("Backend reply is not an envelope")
		return Envelope{}, common.ErrDownstream(
			http.StatusBadGateway, common.CodeDownstreamError, "Backend reply could not be decoded", err,
		)
	}
	return envelope, nil
}

// Ready whether the NATS connection is up
func (b *natsBackend) Ready(ctxt context.Context) error {
	if err := ctxt.Err(); err != nil {
		return err
	}
	if !b.client.Connected() {
		return fmt.Errorf("NATS connection is not established")
	}
	return nil
}

// ===============================================================================

// Responder serves a Service to NATSBackend callers
type Responder interface {
	// Start begin serving requests
	Start() error
	// Stop stop serving, draining in-flight requests
	Stop() error
}

// natsResponder implements Responder
type natsResponder struct {
	common.Component
	client       *core.NatsClient
	prefix       string
	queueGroup   string
	service      Service
	operationCtx context.Context
	lock         sync.Mutex
	subscription *nats.Subscription
}

// GetNATSResponder define a Responder serving every operation under subjectPrefix
//
// Responders sharing a queue group split the request load between them.
func GetNATSResponder(
	ctxt context.Context,
	client *core.NatsClient,
	subjectPrefix, queueGroup string,
	service Service,
) (Responder, error) {
	if client == nil || service == nil {
		return nil, fmt.Errorf("NATS client and service are required")
	}
	if subjectPrefix == "" || queueGroup == "" {
		return nil, fmt.Errorf("subject prefix and queue group are required")
	}
	logTags := log.Fields{
		"module": "backend", "component": "nats-responder", "instance": subjectPrefix,
	}
	return &natsResponder{
		Component:    common.Component{LogTags: logTags},
		client:       client,
		prefix:       subjectPrefix,
		queueGroup:   queueGroup,
		service:      service,
		operationCtx: ctxt,
	}, nil
}

// Start begin serving requests
func (r *natsResponder) Start() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.subscription != nil {
		return fmt.Errorf("responder already started")
	}
	subscription, err := r.client.NATs().QueueSubscribe(
		fmt.Sprintf("%s.>", r.prefix), r.queueGroup, r.handle,
	)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Unable to subscribe")
		return err
	}
	r.subscription = subscription
	log.WithFields(r.LogTags).Infof("Serving backend operations on %s.>", r.prefix)
	return nil
}

// Stop stop serving
func (r *natsResponder) Stop() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.subscription == nil {
		return nil
	}
	err := r.subscription.Drain()
	r.subscription = nil
	return err
}

func (r *natsResponder) handle(msg *nats.Msg) {
	logTags := r.ChildLogTags(log.Fields{"subject": msg.Subject})
	var envelope Envelope

	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		envelope = FailureEnvelope(CodeValidationError, "Request is not valid JSON")
	} else if expected := OperationSubject(r.prefix, req.Operation); expected != msg.Subject {
		envelope = FailureEnvelope(
			CodeValidationError, fmt.Sprintf("Operation '%s' sent on %s", req.Operation, msg.Subject),
		)
	} else {
		result, err := r.service.Invoke(r.operationCtx, req)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Operation failed")
			envelope = FailureEnvelope(common.CodeDownstreamError, err.Error())
		} else {
			envelope = result
		}
	}

	encoded, err := json.Marshal(&envelope)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to encode reply")
		return
	}
	if err := msg.Respond(encoded); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to send reply")
	}
}
