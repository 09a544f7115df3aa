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

package registry

import (
	"sort"
	"sync"
)

// SubscriptionIndex bidirectional index between topics and connection IDs
//
// Connections are referenced only by ID. For every connection c and topic t,
// t is in TopicsOf(c) iff c is in SubscribersOf(t). A topic entry exists only
// while it has at least one subscriber.
type SubscriptionIndex struct {
	lock    sync.RWMutex
	byTopic map[string]map[string]struct{}
	byConn  map[string]map[string]struct{}
}

// NewSubscriptionIndex define an empty SubscriptionIndex
func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{
		byTopic: make(map[string]map[string]struct{}),
		byConn:  make(map[string]map[string]struct{}),
	}
}

// Subscribe add a subscription. Returns false if it already existed.
func (s *SubscriptionIndex) Subscribe(connectionID, topic string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	subscribers, ok := s.byTopic[topic]
	if !ok {
		subscribers = make(map[string]struct{})
		s.byTopic[topic] = subscribers
	}
	if _, exist := subscribers[connectionID]; exist {
		return false
	}
	subscribers[connectionID] = struct{}{}
	topics, ok := s.byConn[connectionID]
	if !ok {
		topics = make(map[string]struct{})
		s.byConn[connectionID] = topics
	}
	topics[topic] = struct{}{}
	return true
}

// Unsubscribe remove a subscription. Returns false if it did not exist.
func (s *SubscriptionIndex) Unsubscribe(connectionID, topic string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.unsubscribe(connectionID, topic)
}

// unsubscribe remove a subscription; caller holds the lock
func (s *SubscriptionIndex) unsubscribe(connectionID, topic string) bool {
	subscribers, ok := s.byTopic[topic]
	if !ok {
		return false
	}
	if _, exist := subscribers[connectionID]; !exist {
		return false
	}
	delete(subscribers, connectionID)
	if len(subscribers) == 0 {
		delete(s.byTopic, topic)
	}
	if topics, ok := s.byConn[connectionID]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(s.byConn, connectionID)
		}
	}
	return true
}

// RemoveAllFor drop every subscription held by a connection, returning the
// topics it was subscribed to
func (s *SubscriptionIndex) RemoveAllFor(connectionID string) []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	topics := setToSortedSlice(s.byConn[connectionID])
	for _, topic := range topics {
		s.unsubscribe(connectionID, topic)
	}
	return topics
}

// SubscribersOf snapshot of the connection IDs subscribed to a topic
func (s *SubscriptionIndex) SubscribersOf(topic string) []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return setToSortedSlice(s.byTopic[topic])
}

// TopicsOf snapshot of the topics a connection is subscribed to
func (s *SubscriptionIndex) TopicsOf(connectionID string) []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return setToSortedSlice(s.byConn[connectionID])
}

// Topics snapshot of all topics with at least one subscriber
func (s *SubscriptionIndex) Topics() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	result := make([]string, 0, len(s.byTopic))
	for topic := range s.byTopic {
		result = append(result, topic)
	}
	sort.Strings(result)
	return result
}

// TopicCount number of topics with at least one subscriber
func (s *SubscriptionIndex) TopicCount() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.byTopic)
}

func setToSortedSlice(set map[string]struct{}) []string {
	result := make([]string, 0, len(set))
	for entry := range set {
		result = append(result, entry)
	}
	sort.Strings(result)
	return result
}
