/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package registry

import (
	"errors"
	"sync"
	"testing"
)

type recordingListener struct {
	category string
	instance string
	fail     error

	mu   sync.Mutex
	keys []string
}

func (l *recordingListener) Invalidate(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return l.fail
}

func (l *recordingListener) Instance() string { return l.instance }
func (l *recordingListener) Category() string { return l.category }

func (l *recordingListener) received() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.keys...)
}

func TestHandleEventSkipsOriginator(t *testing.T) {
	a := &recordingListener{category: "registry-skip", instance: "node-a"}
	b := &recordingListener{category: "registry-skip", instance: "node-b"}
	Register(a)
	Register(b)
	defer Unregister(a)
	defer Unregister(b)

	if err := HandleEvent("registry-skip", "node-a", "k1"); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	if got := a.received(); len(got) != 0 {
		t.Errorf("Expected originator to be skipped, got %v", got)
	}
	if got := b.received(); len(got) != 1 || got[0] != "k1" {
		t.Errorf("Expected node-b to receive k1, got %v", got)
	}
}

func TestHandleEventUnknownCategory(t *testing.T) {
	if err := HandleEvent("registry-none", "node-a", "k1"); err != nil {
		t.Errorf("Expected nil for unknown category, got %v", err)
	}
}

func TestHandleEventAggregatesErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingListener{category: "registry-err", instance: "node-a", fail: boom}
	b := &recordingListener{category: "registry-err", instance: "node-b", fail: boom}
	Register(a)
	Register(b)
	defer Unregister(a)
	defer Unregister(b)

	err := HandleEvent("registry-err", "node-c", "k1")
	if !errors.Is(err, boom) {
		t.Errorf("Expected aggregated boom error, got %v", err)
	}
}

func TestUnregister(t *testing.T) {
	a := &recordingListener{category: "registry-unreg", instance: "node-a"}
	Register(a)
	if Count("registry-unreg") != 1 {
		t.Fatalf("Expected 1 listener, got %d", Count("registry-unreg"))
	}

	Unregister(a)
	if Count("registry-unreg") != 0 {
		t.Errorf("Expected 0 listeners, got %d", Count("registry-unreg"))
	}

	_ = HandleEvent("registry-unreg", "node-b", "k1")
	if got := a.received(); len(got) != 0 {
		t.Errorf("Expected no events after Unregister, got %v", got)
	}
}
