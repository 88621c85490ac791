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

package vsession

import (
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// CreateID returns a new session id "<node>:<token>".
func (m *Manager[B]) CreateID() string {
	return m.node + ":" + uuid.NewString()
}

// SequenceGenerator hands out "<node>:<n>" ids from a counter owned by the
// generator. Ids are unique per generator only.
type SequenceGenerator struct {
	node string
	seq  atomic.Uint64
}

// NewSequenceGenerator creates a counter based id generator for the manager's node.
func (m *Manager[B]) NewSequenceGenerator() *SequenceGenerator {
	return &SequenceGenerator{node: m.node}
}

// Next returns the next id.
func (g *SequenceGenerator) Next() string {
	return g.node + ":" + strconv.FormatUint(g.seq.Inc(), 10)
}
