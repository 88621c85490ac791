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

package vcluster

import "time"

// ModificationEvent tells other nodes that a key of a category was modified,
// claimed or removed elsewhere and any local copy is stale.
type ModificationEvent struct {
	// Category is the namespace of the key, usually an application name
	Category string `json:"category"`

	// Instance identifies the node that originated this event
	Instance string `json:"instance"`

	// Key is the store key that changed
	Key string `json:"key"`

	// Timestamp when the modification occurred
	Timestamp time.Time `json:"timestamp"`
}

// NewModificationEvent creates a new ModificationEvent with the current timestamp.
func NewModificationEvent(category, instance, key string) *ModificationEvent {
	return &ModificationEvent{
		Category:  category,
		Instance:  instance,
		Key:       key,
		Timestamp: time.Now(),
	}
}
