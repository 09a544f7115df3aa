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
	"net/http"

	"github.com/alwitt/goutils"
	"github.com/alwitt/rtgateway/common"
	"github.com/apex/log"
	"github.com/gorilla/mux"
)

// ErrorDetail failure detail of an ErrorResponse
type ErrorDetail struct {
	// Message human readable failure message
	Message string `json:"message"`
	// Code machine readable failure code
	Code string `json:"code"`
	// ResetTime ISO8601 end of the rate limit window, only set for RATE_LIMIT_EXCEEDED
	ResetTime string `json:"resetTime,omitempty"`
}

// ErrorResponse gateway REST API failure response
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// newErrorResponse convert an error into the HTTP status and body sent to the caller
func newErrorResponse(err error) (int, ErrorResponse) {
	gwErr, ok := common.AsGatewayError(err)
	if !ok {
		return http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{Message: "Internal server error", Code: "INTERNAL_ERROR"},
		}
	}
	resp := ErrorResponse{Error: ErrorDetail{Message: gwErr.Message, Code: gwErr.Code}}
	if gwErr.ResetAt != nil {
		resp.Error.ResetTime = common.ISO8601Timestamp(*gwErr.ResetAt)
	}
	return gwErr.Status, resp
}

// ========================================================================================
// MethodHandlers DICT of method-endpoint handler
type MethodHandlers map[string]http.HandlerFunc

// RegisterPathPrefix Register new method handler for an end-point
func RegisterPathPrefix(
	parentRouter *mux.Router, pathPrefix string, methodHandlers MethodHandlers,
) *mux.Router {
	router := parentRouter.PathPrefix(pathPrefix).Subrouter()
	for method, handler := range methodHandlers {
		router.Methods(method).Path("").HandlerFunc(handler)
	}
	return router
}

// ========================================================================================

// defineRestAPIHandler define the base REST handler shared by the gateway APIs
func defineRestAPIHandler(
	logTags log.Fields, httpConfig *common.HTTPConfig,
) goutils.RestAPIHandler {
	return goutils.RestAPIHandler{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
		DoNotLogHeaders: func() map[string]bool {
			result := map[string]bool{}
			for _, v := range httpConfig.Logging.DoNotLogHeaders {
				result[v] = true
			}
			return result
		}(),
	}
}
