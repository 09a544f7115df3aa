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

import "os"

// GetUnitTestNatsURI the NATS server unit tests connect to, from env NATS_HOST
func GetUnitTestNatsURI() string {
	if uri := os.Getenv("NATS_HOST"); uri != "" {
		return uri
	}
	return "nats://127.0.0.1:4222"
}
