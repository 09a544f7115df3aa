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
	"github.com/apex/log"
)

// ConnectionParam is a helper object for logging a persistent connection's parameters
type ConnectionParam struct {
	// ID is the connection ID
	ID string `json:"id"`
	// RemoteAddr is the client address the connection came from
	RemoteAddr string `json:"remote_addr"`
	// UserAgent is the client agent string presented during handshake
	UserAgent string `json:"user_agent"`
	// Subject is the authenticated identity, if the handshake carried one
	Subject string `json:"subject,omitempty"`
}

// UpdateLogTags updates Apex log.Fields map with values the connection's parameters
func (i ConnectionParam) UpdateLogTags(tags log.Fields) {
	tags["connection_id"] = i.ID
	tags["remote_addr"] = i.RemoteAddr
	if i.Subject != "" {
		tags["subject"] = i.Subject
	}
}
