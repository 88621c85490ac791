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

package vfailover

import (
	"slices"
	"sync/atomic"
)

// View is an immutable snapshot of a cluster topology.
type View struct {
	targets []string
	id      uint64
}

// NewView creates a view of targets. The slice is copied.
func NewView(targets []string, id uint64) View {
	return View{targets: slices.Clone(targets), id: id}
}

// Targets returns a copy of the ordered targets.
func (v View) Targets() []string {
	return slices.Clone(v.targets)
}

// ID returns the version stamp of the view.
func (v View) ID() uint64 {
	return v.id
}

// Size returns the number of targets.
func (v View) Size() int {
	return len(v.targets)
}

// Target returns the i-th target.
func (v View) Target(i int) string {
	return v.targets[i]
}

// Contains reports whether target is part of the view.
func (v View) Contains(target string) bool {
	return slices.Contains(v.targets, target)
}

// ClusterView is the replaceable, versioned topology of one service family.
// Readers get consistent snapshots; every mutation builds a new target list
// and swaps it in, so a snapshot is never modified after it was published.
type ClusterView struct {
	current atomic.Pointer[View]
}

// NewClusterView creates a cluster view holding targets at version id.
func NewClusterView(targets []string, id uint64) *ClusterView {
	cv := &ClusterView{}
	v := NewView(targets, id)
	cv.current.Store(&v)
	return cv
}

// Snapshot returns the current view.
func (cv *ClusterView) Snapshot() View {
	return *cv.current.Load()
}

// Targets returns a copy of the current targets.
func (cv *ClusterView) Targets() []string {
	return cv.current.Load().Targets()
}

// ID returns the current view id.
func (cv *ClusterView) ID() uint64 {
	return cv.current.Load().id
}

// Size returns the number of current targets.
func (cv *ClusterView) Size() int {
	return len(cv.current.Load().targets)
}

// Update replaces the targets wholesale. A view older than the current one
// is ignored; Update reports whether the new view was applied.
func (cv *ClusterView) Update(targets []string, id uint64) bool {
	next := NewView(targets, id)
	for {
		cur := cv.current.Load()
		if id < cur.id {
			return false
		}
		if cv.current.CompareAndSwap(cur, &next) {
			return true
		}
	}
}

// RemoveDeadTarget drops target from the view, keeping the view id.
// Removing a target that is not present is a no-op and returns false.
func (cv *ClusterView) RemoveDeadTarget(target string) bool {
	for {
		cur := cv.current.Load()
		idx := slices.Index(cur.targets, target)
		if idx < 0 {
			return false
		}

		next := &View{
			targets: slices.Delete(slices.Clone(cur.targets), idx, idx+1),
			id:      cur.id,
		}
		if cv.current.CompareAndSwap(cur, next) {
			return true
		}
	}
}
