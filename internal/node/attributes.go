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

package node

import (
	"context"

	"github.com/vogo/vogo/vlog"
)

// Attributes is the session bean served by a node: a replicated string map.
type Attributes struct {
	Values map[string]string `json:"values"`
}

func newAttributes() *Attributes {
	return &Attributes{Values: make(map[string]string)}
}

func (a *Attributes) Activate(context.Context) error {
	if a.Values == nil {
		a.Values = make(map[string]string)
	}
	return nil
}

func (a *Attributes) Passivate(context.Context) error {
	return nil
}

func (a *Attributes) Remove(context.Context) error {
	vlog.Debugf("vcluster session attributes removed | count: %d", len(a.Values))
	return nil
}
