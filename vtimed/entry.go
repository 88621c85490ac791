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

package vtimed

import "time"

// TimedEntry is implemented by values that carry their own expiration policy.
// A cache stores such values as they are and delegates every lifetime
// decision to them.
type TimedEntry interface {
	// Init is called exactly once, when the value is inserted.
	Init(now time.Time)

	// IsCurrent reports whether the value is still valid at now.
	IsCurrent(now time.Time) bool

	// Refresh tries to extend the lifetime of an expired value.
	Refresh() bool

	// Destroy is called once, after the value was removed from the store.
	Destroy()
}

// Entry is the envelope stored for every cached value.
type Entry[V any] struct {
	Value       V             `json:"value"`
	Lifetime    time.Duration `json:"lifetime"`
	Expires     time.Time     `json:"expires"`
	Refreshable bool          `json:"refreshable,omitempty"`
}

// timed returns the value's own policy, if it has one.
func (e *Entry[V]) timed() TimedEntry {
	if t, ok := any(e.Value).(TimedEntry); ok {
		return t
	}
	if t, ok := any(&e.Value).(TimedEntry); ok {
		return t
	}
	return nil
}

// Init computes the absolute expiration from now.
func (e *Entry[V]) Init(now time.Time) {
	if t := e.timed(); t != nil {
		t.Init(now)
		return
	}
	e.Expires = now.Add(e.Lifetime)
}

// IsCurrent reports whether the entry is valid at now.
func (e *Entry[V]) IsCurrent(now time.Time) bool {
	if t := e.timed(); t != nil {
		return t.IsCurrent(now)
	}
	return now.Before(e.Expires)
}

// refresh extends the entry from now when allowed.
func (e *Entry[V]) refresh(now time.Time) bool {
	if t := e.timed(); t != nil {
		return t.Refresh()
	}
	if !e.Refreshable {
		return false
	}
	e.Expires = now.Add(e.Lifetime)
	return true
}

// destroy releases the value's resources.
func (e *Entry[V]) destroy() {
	if t := e.timed(); t != nil {
		t.Destroy()
	}
}
