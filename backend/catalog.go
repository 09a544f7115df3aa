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

import "net/http"

// Resource families, which double as broadcast topics
const (
	FamilyContainerApps = "containerApps"
	FamilyDevOps        = "devops"
	FamilyMaps          = "maps"
	FamilyWeather       = "weather"
	FamilyKeyVault      = "keyVault"
	FamilyLogs          = "logs"
)

// Operation one HTTP exposed backend operation
type Operation struct {
	// Name unique operation name
	Name string
	// Family resource family; broadcast topic of mutating operations
	Family string
	// Method HTTP method
	Method string
	// Path route path template, gorilla/mux style
	Path string
	// Protected whether a bearer token is required
	Protected bool
	// Event broadcast event name; empty for read-only operations
	Event string
	// SuccessStatus HTTP status of a successful call
	SuccessStatus int
}

// Mutating whether a successful call is broadcast to the family's subscribers
func (o Operation) Mutating() bool {
	return o.Event != ""
}

var catalog = []Operation{
	{
		Name: "containerApps.list", Family: FamilyContainerApps,
		Method: http.MethodGet, Path: "/api/container-apps",
	},
	{
		Name: "containerApps.get", Family: FamilyContainerApps,
		Method: http.MethodGet, Path: "/api/container-apps/{name}",
	},
	{
		Name: "containerApps.create", Family: FamilyContainerApps,
		Method: http.MethodPost, Path: "/api/container-apps",
		Protected: true, Event: "container_app_created", SuccessStatus: http.StatusCreated,
	},
	{
		Name: "containerApps.delete", Family: FamilyContainerApps,
		Method: http.MethodDelete, Path: "/api/container-apps/{name}",
		Protected: true, Event: "container_app_deleted",
	},
	{
		Name: "containerApps.restart", Family: FamilyContainerApps,
		Method: http.MethodPost, Path: "/api/container-apps/{name}/restart",
		Protected: true, Event: "container_app_restarted",
	},
	{
		Name: "devops.listPipelines", Family: FamilyDevOps,
		Method: http.MethodGet, Path: "/api/devops/pipelines",
	},
	{
		Name: "devops.runPipeline", Family: FamilyDevOps,
		Method: http.MethodPost, Path: "/api/devops/pipelines/{id}/runs",
		Protected: true, Event: "pipeline_run_started", SuccessStatus: http.StatusAccepted,
	},
	{
		Name: "maps.geocode", Family: FamilyMaps,
		Method: http.MethodGet, Path: "/api/maps/geocode",
	},
	{
		Name: "maps.route", Family: FamilyMaps,
		Method: http.MethodGet, Path: "/api/maps/route",
	},
	{
		Name: "weather.current", Family: FamilyWeather,
		Method: http.MethodGet, Path: "/api/weather/current",
	},
	{
		Name: "weather.forecast", Family: FamilyWeather,
		Method: http.MethodGet, Path: "/api/weather/forecast",
	},
	{
		Name: "keyVault.getSecret", Family: FamilyKeyVault,
		Method: http.MethodGet, Path: "/api/keyvault/secrets/{name}", Protected: true,
	},
	{
		Name: "keyVault.putSecret", Family: FamilyKeyVault,
		Method: http.MethodPut, Path: "/api/keyvault/secrets/{name}",
		Protected: true, Event: "secret_updated",
	},
	{
		Name: "keyVault.deleteSecret", Family: FamilyKeyVault,
		Method: http.MethodDelete, Path: "/api/keyvault/secrets/{name}",
		Protected: true, Event: "secret_deleted",
	},
	{
		Name: "logs.write", Family: FamilyLogs,
		Method: http.MethodPost, Path: "/api/logs",
		Event: "log_entry_created", SuccessStatus: http.StatusCreated,
	},
	{
		Name: "logs.query", Family: FamilyLogs,
		Method: http.MethodGet, Path: "/api/logs/query", Protected: true,
	},
}

// Catalog every HTTP exposed operation
func Catalog() []Operation {
	result := make([]Operation, len(catalog))
	for idx, op := range catalog {
		if op.SuccessStatus == 0 {
			op.SuccessStatus = http.StatusOK
		}
		result[idx] = op
	}
	return result
}

// LookupOperation find an operation by name
func LookupOperation(name string) (Operation, bool) {
	for _, op := range Catalog() {
		if op.Name == name {
			return op, true
		}
	}
	return Operation{}, false
}
