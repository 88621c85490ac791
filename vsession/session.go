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

// Package vsession replicates stateful session beans through a shared
// ownership store so any node of the cluster can resume a session.
package vsession

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoState means a session exists in the store but was never synchronized.
var ErrNoState = errors.New("vsession: no replicated state")

// Bean is the replicated instance of a session. Its exported state is what
// gets replicated; the hooks run around (de)serialization.
type Bean interface {
	// Activate runs after the state was restored or written.
	Activate(ctx context.Context) error
	// Passivate runs before the state is serialized.
	Passivate(ctx context.Context) error
	// Remove runs when the session ends.
	Remove(ctx context.Context) error
}

// Session couples a session id with its bean instance.
type Session[B Bean] struct {
	ID   string
	Bean B
}

// ActivationError is returned when a session could not be claimed or restored.
type ActivationError struct {
	ID  string
	Err error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("vsession: activate %s: %v", e.ID, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// SessionError is a codec or lifecycle hook failure.
type SessionError struct {
	Op  string
	ID  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("vsession: %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// StoreError is a failure of the shared store. Session identity depends on
// the store, so these are never swallowed.
type StoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vsession: store %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
