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
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alwitt/rtgateway/common"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ContainerApp a compute workload
type ContainerApp struct {
	Name         string    `json:"name" validate:"required,hostname_rfc1123,max=63"`
	Image        string    `json:"image" validate:"required"`
	Replicas     int       `json:"replicas" validate:"gte=0,lte=100"`
	Status       string    `json:"status"`
	RestartCount int       `json:"restartCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Pipeline a CI/CD pipeline
type Pipeline struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PipelineRun one run of a pipeline
type PipelineRun struct {
	ID         string    `json:"id"`
	PipelineID string    `json:"pipelineId"`
	Status     string    `json:"status"`
	Branch     string    `json:"branch,omitempty"`
	QueuedAt   time.Time `json:"queuedAt"`
	QueuedBy   string    `json:"queuedBy,omitempty"`
}

// Secret a stored secret
type Secret struct {
	Name      string    `json:"name"`
	Value     string    `json:"value,omitempty"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LogEntry one ingested log line
type LogEntry struct {
	ID        string            `json:"id"`
	Level     string            `json:"level" validate:"required,oneof=debug info warn error"`
	Message   string            `json:"message" validate:"required"`
	Source    string            `json:"source,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type memoryHandler func(req Request) Envelope

// MemoryBackend in-process Service keeping every resource family in memory
type MemoryBackend struct {
	common.Component
	lock      sync.Mutex
	apps      map[string]*ContainerApp
	pipelines map[string]Pipeline
	runs      []PipelineRun
	secrets   map[string]*Secret
	logs      []LogEntry
	maxLogs   int
	handlers  map[string]memoryHandler
	validate  *validator.Validate
	now       func() time.Time
}

// NewMemoryBackend define a new MemoryBackend
//
// maxLogs bounds the number of retained log entries; oldest entries are dropped first.
func NewMemoryBackend(instance string, maxLogs int) (*MemoryBackend, error) {
	if maxLogs < 1 {
		return nil, fmt.Errorf("max retained logs must be at least 1")
	}
	logTags := log.Fields{
		"module": "backend", "component": "memory-backend", "instance": instance,
	}
	b := &MemoryBackend{
		Component: common.Component{LogTags: logTags},
		apps:      make(map[string]*ContainerApp),
		pipelines: map[string]Pipeline{
			"build":   {ID: "build", Name: "Build and unit test"},
			"release": {ID: "release", Name: "Release to production"},
		},
		secrets:  make(map[string]*Secret),
		maxLogs:  maxLogs,
		validate: validator.New(),
		now:      time.Now,
	}
	b.handlers = map[string]memoryHandler{
		"containerApps.list":    b.listApps,
		"containerApps.get":     b.getApp,
		"containerApps.create":  b.createApp,
		"containerApps.delete":  b.deleteApp,
		"containerApps.restart": b.restartApp,
		"devops.listPipelines":  b.listPipelines,
		"devops.runPipeline":    b.runPipeline,
		"maps.geocode":          b.geocode,
		"maps.route":            b.route,
		"weather.current":       b.currentWeather,
		"weather.forecast":      b.forecast,
		"keyVault.getSecret":    b.getSecret,
		"keyVault.putSecret":    b.putSecret,
		"keyVault.deleteSecret": b.deleteSecret,
		"logs.write":            b.writeLog,
		"logs.query":            b.queryLogs,
	}
	return b, nil
}

// Invoke perform one operation
func (b *MemoryBackend) Invoke(ctxt context.Context, req Request) (Envelope, error) {
	if err := ctxt.Err(); err != nil {
		return Envelope{}, err
	}
	handler, ok := b.handlers[req.Operation]
	if !ok {
		return FailureEnvelope(
			CodeUnsupported, fmt.Sprintf("Operation '%s' is not supported", req.Operation),
		), nil
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	return handler(req), nil
}

// Ready always ready
func (b *MemoryBackend) Ready(ctxt context.Context) error {
	return ctxt.Err()
}

func (b *MemoryBackend) success(data interface{}) Envelope {
	envelope, err := SuccessEnvelope(data)
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Unable to encode response")
		return FailureEnvelope("INTERNAL_ERROR", "Unable to encode response")
	}
	return envelope
}

func (b *MemoryBackend) decodeBody(req Request, target interface{}) *Envelope {
	if len(req.Body) == 0 {
		failure := FailureEnvelope(CodeValidationError, "Request body is required")
		return &failure
	}
	if err := json.Unmarshal(req.Body, target); err != nil {
		failure := FailureEnvelope(CodeValidationError, "Request body is not valid JSON")
		return &failure
	}
	return nil
}

func (b *MemoryBackend) validationFailure(err error) Envelope {
	return FailureEnvelope(CodeValidationError, err.Error())
}

// ===============================================================================
// Container apps

func (b *MemoryBackend) listApps(Request) Envelope {
	result := make([]ContainerApp, 0, len(b.apps))
	for _, app := range b.apps {
		result = append(result, *app)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return b.success(result)
}

func (b *MemoryBackend) getApp(req Request) Envelope {
	app, ok := b.apps[req.Params["name"]]
	if !ok {
		return FailureEnvelope(
			CodeNotFound, fmt.Sprintf("Container app '%s' not found", req.Params["name"]),
		)
	}
	return b.success(app)
}

func (b *MemoryBackend) createApp(req Request) Envelope {
	var app ContainerApp
	if failure := b.decodeBody(req, &app); failure != nil {
		return *failure
	}
	if app.Replicas == 0 {
		app.Replicas = 1
	}
	if err := b.validate.Struct(&app); err != nil {
		return b.validationFailure(err)
	}
	if _, exists := b.apps[app.Name]; exists {
		return FailureEnvelope(CodeConflict, fmt.Sprintf("Container app '%s' already exists", app.Name))
	}
	now := b.now().UTC()
	app.Status = "Provisioning"
	app.RestartCount = 0
	app.CreatedAt = now
	app.UpdatedAt = now
	b.apps[app.Name] = &app
	return b.success(app)
}

func (b *MemoryBackend) deleteApp(req Request) Envelope {
	name := req.Params["name"]
	if _, ok := b.apps[name]; !ok {
		return FailureEnvelope(CodeNotFound, fmt.Sprintf("Container app '%s' not found", name))
	}
	delete(b.apps, name)
	return b.success(map[string]interface{}{"name": name, "deleted": true})
}

func (b *MemoryBackend) restartApp(req Request) Envelope {
	app, ok := b.apps[req.Params["name"]]
	if !ok {
		return FailureEnvelope(
			CodeNotFound, fmt.Sprintf("Container app '%s' not found", req.Params["name"]),
		)
	}
	app.RestartCount++
	app.Status = "Running"
	app.UpdatedAt = b.now().UTC()
	return b.success(app)
}

// ===============================================================================
// DevOps

func (b *MemoryBackend) listPipelines(Request) Envelope {
	result := make([]Pipeline, 0, len(b.pipelines))
	for _, pipeline := range b.pipelines {
		result = append(result, pipeline)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return b.success(result)
}

func (b *MemoryBackend) runPipeline(req Request) Envelope {
	pipeline, ok := b.pipelines[req.Params["id"]]
	if !ok {
		return FailureEnvelope(CodeNotFound, fmt.Sprintf("Pipeline '%s' not found", req.Params["id"]))
	}
	var options struct {
		Branch string `json:"branch"`
	}
	if len(req.Body) > 0 {
		if failure := b.decodeBody(req, &options); failure != nil {
			return *failure
		}
	}
	run := PipelineRun{
		ID:         uuid.NewString(),
		PipelineID: pipeline.ID,
		Status:     "queued",
		Branch:     options.Branch,
		QueuedAt:   b.now().UTC(),
		QueuedBy:   req.Subject,
	}
	b.runs = append(b.runs, run)
	return b.success(run)
}

// ===============================================================================
// Maps and weather
//
// Results are derived deterministically from the inputs.

func pseudoRandom(seed string, min, max float64) float64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(seed))
	fraction := float64(hasher.Sum64()%1000000) / 1000000.0
	return min + fraction*(max-min)
}

func round(value float64, places int) float64 {
	formatted := strconv.FormatFloat(value, 'f', places, 64)
	result, _ := strconv.ParseFloat(formatted, 64)
	return result
}

func (b *MemoryBackend) geocode(req Request) Envelope {
	address := strings.TrimSpace(req.QueryValue("address"))
	if address == "" {
		return FailureEnvelope(CodeValidationError, "Query parameter 'address' is required")
	}
	return b.success(map[string]interface{}{
		"address":   address,
		"latitude":  round(pseudoRandom("lat:"+address, -60, 60), 5),
		"longitude": round(pseudoRandom("lon:"+address, -180, 180), 5),
	})
}

func (b *MemoryBackend) route(req Request) Envelope {
	from := strings.TrimSpace(req.QueryValue("from"))
	to := strings.TrimSpace(req.QueryValue("to"))
	if from == "" || to == "" {
		return FailureEnvelope(CodeValidationError, "Query parameters 'from' and 'to' are required")
	}
	distance := round(pseudoRandom(from+"->"+to, 1, 500), 1)
	return b.success(map[string]interface{}{
		"from":            from,
		"to":              to,
		"distanceKm":      distance,
		"durationMinutes": int(distance * 1.2),
	})
}

func (b *MemoryBackend) currentWeather(req Request) Envelope {
	location := strings.TrimSpace(req.QueryValue("location"))
	if location == "" {
		return FailureEnvelope(CodeValidationError, "Query parameter 'location' is required")
	}
	return b.success(map[string]interface{}{
		"location":     location,
		"temperatureC": round(pseudoRandom("temp:"+location, -10, 35), 1),
		"humidity":     int(pseudoRandom("humidity:"+location, 20, 95)),
		"observedAt":   common.ISO8601Timestamp(b.now()),
	})
}

func (b *MemoryBackend) forecast(req Request) Envelope {
	location := strings.TrimSpace(req.QueryValue("location"))
	if location == "" {
		return FailureEnvelope(CodeValidationError, "Query parameter 'location' is required")
	}
	days := 3
	if raw := req.QueryValue("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 10 {
			return FailureEnvelope(CodeValidationError, "Query parameter 'days' must be 1-10")
		}
		days = parsed
	}
	today := b.now().UTC().Truncate(24 * time.Hour)
	result := make([]map[string]interface{}, 0, days)
	for itr := 0; itr < days; itr++ {
		date := today.AddDate(0, 0, itr).Format("2006-01-02")
		result = append(result, map[string]interface{}{
			"date":  date,
			"highC": round(pseudoRandom("high:"+location+date, 10, 35), 1),
			"lowC":  round(pseudoRandom("low:"+location+date, -10, 10), 1),
		})
	}
	return b.success(map[string]interface{}{"location": location, "days": result})
}

// ===============================================================================
// Key vault

func (b *MemoryBackend) getSecret(req Request) Envelope {
	secret, ok := b.secrets[req.Params["name"]]
	if !ok {
		return FailureEnvelope(CodeNotFound, fmt.Sprintf("Secret '%s' not found", req.Params["name"]))
	}
	return b.success(secret)
}

func (b *MemoryBackend) putSecret(req Request) Envelope {
	name := req.Params["name"]
	var body struct {
		Value string `json:"value" validate:"required"`
	}
	if failure := b.decodeBody(req, &body); failure != nil {
		return *failure
	}
	if err := b.validate.Struct(&body); err != nil {
		return b.validationFailure(err)
	}
	secret, ok := b.secrets[name]
	if !ok {
		secret = &Secret{Name: name}
		b.secrets[name] = secret
	}
	secret.Value = body.Value
	secret.Version++
	secret.UpdatedAt = b.now().UTC()
	// The value is never echoed back
	return b.success(Secret{Name: secret.Name, Version: secret.Version, UpdatedAt: secret.UpdatedAt})
}

func (b *MemoryBackend) deleteSecret(req Request) Envelope {
	name := req.Params["name"]
	if _, ok := b.secrets[name]; !ok {
		return FailureEnvelope(CodeNotFound, fmt.Sprintf("Secret '%s' not found", name))
	}
	delete(b.secrets, name)
	return b.success(map[string]interface{}{"name": name, "deleted": true})
}

// ===============================================================================
// Logs

func (b *MemoryBackend) writeLog(req Request) Envelope {
	var entry LogEntry
	if failure := b.decodeBody(req, &entry); failure != nil {
		return *failure
	}
	entry.Level = strings.ToLower(entry.Level)
	if err := b.validate.Struct(&entry); err != nil {
		return b.validationFailure(err)
	}
	entry.ID = uuid.NewString()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = b.now().UTC()
	}
	b.logs = append(b.logs, entry)
	if len(b.logs) > b.maxLogs {
		b.logs = b.logs[len(b.logs)-b.maxLogs:]
	}
	return b.success(entry)
}

func (b *MemoryBackend) queryLogs(req Request) Envelope {
	level := strings.ToLower(req.QueryValue("level"))
	contains := req.QueryValue("contains")
	limit := 100
	if raw := req.QueryValue("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return FailureEnvelope(CodeValidationError, "Query parameter 'limit' must be positive")
		}
		limit = parsed
	}
	result := []LogEntry{}
	// Newest first
	for itr := len(b.logs) - 1; itr >= 0 && len(result) < limit; itr-- {
		entry := b.logs[itr]
		if level != "" && entry.Level != level {
			continue
		}
		if contains != "" && !strings.Contains(entry.Message, contains) {
			continue
		}
		result = append(result, entry)
	}
	return b.success(result)
}
