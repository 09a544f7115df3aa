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

// Package admission implements per category fixed window admission control
package admission

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alwitt/rtgateway/common"
	"github.com/apex/log"
)

// CategoryRule one admission category
type CategoryRule struct {
	// Name category name
	Name string
	// PathPrefix request paths under this prefix belong to the category
	PathPrefix string
	// Capacity requests admitted per window, per client key
	Capacity int
	// Window window duration
	Window time.Duration
}

// Decision outcome of one admission check
type Decision struct {
	Allowed  bool
	Category string
	// Limit the category capacity
	Limit int
	// Remaining requests left in the current window
	Remaining int
	// ResetAt when the current window ends
	ResetAt time.Time
}

// Controller category scoped fixed window rate limiter
type Controller interface {
	// Classify map a request path to its category
	Classify(path string) CategoryRule
	// Allow evaluate one request of a client key against a category
	Allow(category, key string) (Decision, error)
	// Admit classify the path, then evaluate the request
	Admit(path, key string) Decision
	// Sweep drop buckets whose window has ended, returning the number dropped
	Sweep() int
	// Buckets number of live buckets
	Buckets() int
}

type bucket struct {
	windowStart time.Time
	consumed    int
}

// fixedWindowController implements Controller
type fixedWindowController struct {
	common.Component
	lock     sync.Mutex
	rules    []CategoryRule
	byName   map[string]CategoryRule
	fallback CategoryRule
	buckets  map[string]*bucket
	clock    func() time.Time
	metrics  *common.GatewayMetrics
}

// GetFixedWindowController define a new fixed window Controller
//
// The fallback applies to every path no other rule matches. clock may be nil,
// in which case time.Now is used.
func GetFixedWindowController(
	instance string,
	rules []CategoryRule,
	fallback CategoryRule,
	clock func() time.Time,
	metrics *common.GatewayMetrics,
) (Controller, error) {
	byName := map[string]CategoryRule{}
	normalized := make([]CategoryRule, 0, len(rules))
	for _, rule := range append([]CategoryRule{fallback}, rules...) {
		if rule.Name == "" || strings.Contains(rule.Name, "|") {
			return nil, fmt.Errorf("category name '%s' is not valid", rule.Name)
		}
		if rule.Capacity < 1 || rule.Window <= 0 {
			return nil, fmt.Errorf("category %s must have positive capacity and window", rule.Name)
		}
		if !strings.HasPrefix(rule.PathPrefix, "/") {
			return nil, fmt.Errorf("category %s path prefix must start with '/'", rule.Name)
		}
		if _, ok := byName[rule.Name]; ok {
			return nil, fmt.Errorf("category %s defined more than once", rule.Name)
		}
		rule.PathPrefix = normalizePrefix(rule.PathPrefix)
		byName[rule.Name] = rule
		if rule.Name != fallback.Name {
			normalized = append(normalized, rule)
		}
	}
	if clock == nil {
		clock = time.Now
	}
	logTags := log.Fields{
		"module": "admission", "component": "fixed-window-controller", "instance": instance,
	}
	return &fixedWindowController{
		Component: common.Component{LogTags: logTags},
		rules:     normalized,
		byName:    byName,
		fallback:  byName[fallback.Name],
		buckets:   make(map[string]*bucket),
		clock:     clock,
		metrics:   metrics,
	}, nil
}

// RulesFromConfig convert the admission control config into rules
func RulesFromConfig(cfg common.RateLimitConfig) ([]CategoryRule, CategoryRule) {
	convert := func(entry common.RateLimitCategoryConfig) CategoryRule {
		return CategoryRule{
			Name:       entry.Name,
			PathPrefix: entry.PathPrefix,
			Capacity:   entry.Capacity,
			Window:     common.SecondsToDuration(entry.Window),
		}
	}
	rules := make([]CategoryRule, 0, len(cfg.Categories))
	for _, entry := range cfg.Categories {
		rules = append(rules, convert(entry))
	}
	return rules, convert(cfg.Fallback)
}

func normalizePrefix(prefix string) string {
	if prefix == "/" {
		return prefix
	}
	return strings.TrimRight(prefix, "/")
}

// matchesPrefix segment aligned prefix match
func matchesPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// Classify map a request path to its category
//
// The longest matching prefix wins. Between equally long prefixes the rule
// declared first wins.
func (c *fixedWindowController) Classify(path string) CategoryRule {
	best := c.fallback
	bestLen := -1
	for _, rule := range c.rules {
		if matchesPrefix(path, rule.PathPrefix) && len(rule.PathPrefix) > bestLen {
			best = rule
			bestLen = len(rule.PathPrefix)
		}
	}
	return best
}

// Allow evaluate one request of a client key against a category
func (c *fixedWindowController) Allow(category, key string) (Decision, error) {
	rule, ok := c.byName[category]
	if !ok {
		return Decision{}, fmt.Errorf("unknown admission category %s", category)
	}
	return c.evaluate(rule, key), nil
}

// Admit classify the path, then evaluate the request
func (c *fixedWindowController) Admit(path, key string) Decision {
	return c.evaluate(c.Classify(path), key)
}

func (c *fixedWindowController) evaluate(rule CategoryRule, key string) Decision {
	bucketKey := rule.Name + "|" + key

	c.lock.Lock()
	now := c.clock()
	entry, ok := c.buckets[bucketKey]
	if !ok || !now.Before(entry.windowStart.Add(rule.Window)) {
		entry = &bucket{windowStart: now}
		c.buckets[bucketKey] = entry
	}
	decision := Decision{
		Category: rule.Name,
		Limit:    rule.Capacity,
		ResetAt:  entry.windowStart.Add(rule.Window),
	}
	if entry.consumed < rule.Capacity {
		entry.consumed++
		decision.Allowed = true
	}
	decision.Remaining = rule.Capacity - entry.consumed
	c.lock.Unlock()

	c.metrics.Admission(rule.Name, decision.Allowed)
	if !decision.Allowed {
		log.WithFields(c.ChildLogTags(log.Fields{"category": rule.Name, "client": key})).
			Debugf("Denied until %s", common.ISO8601Timestamp(decision.ResetAt))
	}
	return decision
}

// Sweep drop buckets whose window has ended
func (c *fixedWindowController) Sweep() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	now := c.clock()
	dropped := 0
	for bucketKey, entry := range c.buckets {
		name := bucketKey[:strings.Index(bucketKey, "|")]
		rule, ok := c.byName[name]
		if !ok || !now.Before(entry.windowStart.Add(rule.Window)) {
			delete(c.buckets, bucketKey)
			dropped++
		}
	}
	return dropped
}

// Buckets number of live buckets
func (c *fixedWindowController) Buckets() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.buckets)
}
