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

// Package backend defines the collaborator performing the cloud operations behind the gateway
package backend

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/alwitt/rtgateway/common"
)

// Backend error codes returned inside a failure Envelope
const (
	CodeNotFound        = "NOT_FOUND"
	CodeValidationError = "VALIDATION_ERROR"
	CodeConflict        = "CONFLICT"
	CodeUnsupported     = "UNSUPPORTED_OPERATION"
)

// Request one backend operation invocation
type Request struct {
	// Operation the catalog operation name
	Operation string `json:"operation" validate:"required"`
	// Params path parameters
	Params map[string]string `json:"params,omitempty"`
	// Query query parameters
	Query map[string][]string `json:"query,omitempty"`
	// Body request body, passed through untouched
	Body json.RawMessage `json:"body,omitempty"`
	// Subject the authenticated caller, if any
	Subject string `json:"subject,omitempty"`
}

// QueryValue first value of a query parameter
func (r Request) QueryValue(name string) string {
	if values, ok := r.Query[name]; ok && len(values) > 0 {
		return values[0]
	}
	return ""
}

// EnvelopeError failure detail of an Envelope
type EnvelopeError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Envelope uniform backend response
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *EnvelopeError  `json:"error,omitempty"`
}

// SuccessEnvelope build a success Envelope around data
func SuccessEnvelope(data interface{}) (Envelope, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Success: true, Data: encoded}, nil
}

// FailureEnvelope build a failure Envelope
func FailureEnvelope(code, message string) Envelope {
	return Envelope{Error: &EnvelopeError{Code: code, Message: message}}
}

// HTTPStatus the HTTP status a caller should see for this envelope
func (e Envelope) HTTPStatus(successStatus int) int {
	if e.Success {
		return successStatus
	}
	if e.Error == nil {
		return http.StatusBadGateway
	}
	switch e.Error.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidationError, common.CodeBadRequest:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// Service the backend collaborator
type Service interface {
	// Invoke perform one operation
	//
	// A returned error means the call itself failed (transport, timeout); an
	// operation level failure is a failure Envelope with a nil error.
	Invoke(ctxt context.Context, req Request) (Envelope, error)
	// Ready whether the backend can currently serve requests
	Ready(ctxt context.Context) error
}
