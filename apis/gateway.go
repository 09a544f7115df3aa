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

package apis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/rtgateway/admission"
	"github.com/alwitt/rtgateway/auth"
	"github.com/alwitt/rtgateway/backend"
	"github.com/alwitt/rtgateway/common"
	"github.com/alwitt/rtgateway/gateway"
	"github.com/apex/log"
	"github.com/gorilla/mux"
)

// MaxRequestBodyBytes largest operation request body accepted
const MaxRequestBodyBytes = 1 << 20

// Rate limit response headers
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// APIRestGatewayHandler REST handler exposing the backend operations
type APIRestGatewayHandler struct {
	goutils.RestAPIHandler
	gw             *gateway.Gateway
	pathPrefix     string
	trustForwarded bool
	now            func() time.Time
}

// GetAPIRestGatewayHandler define APIRestGatewayHandler
func GetAPIRestGatewayHandler(
	gw *gateway.Gateway, config *common.GatewayServerConfig,
) (APIRestGatewayHandler, error) {
	if gw == nil {
		return APIRestGatewayHandler{}, fmt.Errorf("gateway is required")
	}
	logTags := log.Fields{
		"module":    "apis",
		"component": "gateway-operations",
	}
	return APIRestGatewayHandler{
		RestAPIHandler: defineRestAPIHandler(logTags, &config.HTTPSetting),
		gw:             gw,
		pathPrefix:     strings.TrimRight(config.Endpoints.PathPrefix, "/"),
		trustForwarded: config.RateLimit.TrustForwardedFor,
		now:            time.Now,
	}, nil
}

// admissionPath the request path as seen by admission control, without the
// end-point path prefix
func (h APIRestGatewayHandler) admissionPath(r *http.Request) string {
	path := r.URL.Path
	if h.pathPrefix != "" && strings.HasPrefix(path, h.pathPrefix) {
		path = strings.TrimPrefix(path, h.pathPrefix)
		if path == "" {
			path = "/"
		}
	}
	return path
}

// applyRateLimitHeaders attach the admission decision to the response headers
func (h APIRestGatewayHandler) applyRateLimitHeaders(
	w http.ResponseWriter, decision *admission.Decision,
) {
	w.Header().Set(HeaderRateLimitLimit, fmt.Sprintf("%d", decision.Limit))
	w.Header().Set(HeaderRateLimitRemaining, fmt.Sprintf("%d", decision.Remaining))
	w.Header().Set(HeaderRateLimitReset, fmt.Sprintf("%d", decision.ResetAt.Unix()))
	if !decision.Allowed {
		retryAfter := int(math.Ceil(decision.ResetAt.Sub(h.now()).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set(HeaderRetryAfter, fmt.Sprintf("%d", retryAfter))
	}
}

// readBody read and sanity check an operation request body
func readBody(r *http.Request) (json.RawMessage, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodyBytes+1))
	if err != nil {
		return nil, common.ErrBadRequest("Unable to read request body", err)
	}
	if len(raw) > MaxRequestBodyBytes {
		return nil, common.ErrBadRequest("Request body too large", nil)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, common.ErrBadRequest("Request body must be JSON", nil)
	}
	return raw, nil
}

// Invoke run one backend operation for a HTTP request
//
// Protected operations are authenticated first, then every operation passes
// admission control before reaching the backend.
func (h APIRestGatewayHandler) Invoke(
	op backend.Operation, w http.ResponseWriter, r *http.Request,
) {
	localLogTags := log.Fields{"operation": op.Name}
	for k, v := range h.GetLogTagsForContext(r.Context()) {
		localLogTags[k] = v
	}
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	ctxt := r.Context()
	req := backend.Request{Params: mux.Vars(r), Query: r.URL.Query()}

	if op.Protected {
		identity, err := h.gw.Authenticate(r)
		if err != nil {
			log.WithError(err).WithFields(localLogTags).WithField("event_class", "security").
				Warn("Rejected request credential")
			respCode, respBody = newErrorResponse(err)
			return
		}
		ctxt = auth.WithIdentity(ctxt, identity)
	}

	clientKey := common.ClientAddress(r, h.trustForwarded)
	if decision := h.gw.Admit(h.admissionPath(r), clientKey); decision != nil {
		h.applyRateLimitHeaders(w, decision)
		if !decision.Allowed {
			log.WithFields(localLogTags).WithField("category", decision.Category).
				Debugf("Client %s exceeded rate limit", clientKey)
			respCode, respBody = newErrorResponse(common.ErrRateLimitExceeded(decision.ResetAt))
			return
		}
	}

	body, err := readBody(r)
	if err != nil {
		respCode, respBody = newErrorResponse(err)
		return
	}
	req.Body = body

	envelope, err := h.gw.Execute(ctxt, op, req)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Backend call failed")
		respCode, respBody = newErrorResponse(err)
		return
	}
	respCode = envelope.HTTPStatus(op.SuccessStatus)
	respBody = envelope
}

// OperationHandler Wrapper around Invoke for one operation
func (h APIRestGatewayHandler) OperationHandler(op backend.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Invoke(op, w, r)
	}
}

// -----------------------------------------------------------------------

// NotFound respond to requests matching no route
func (h APIRestGatewayHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	respCode, respBody := newErrorResponse(
		common.ErrNotFound(fmt.Sprintf("Route %s %s not found", r.Method, r.URL.Path)),
	)
	if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// NotFoundHandler Wrapper around NotFound
func (h APIRestGatewayHandler) NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.NotFound(w, r)
	}
}

// Write logging support
func (h APIRestGatewayHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", bytes.TrimSpace(p))
	return len(p), nil
}
