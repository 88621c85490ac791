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

// Package uid provides the default node identity of this process.
package uid

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"
)

// NodeName identifies this process when no node name is configured.
// It never contains ':' because session ids use it as a separator.
var NodeName = generate()

// generate combines the hostname with random bytes.
func generate() string {
	hostname, _ := os.Hostname()
	hostname = strings.ReplaceAll(hostname, ":", "-")
	if hostname == "" {
		hostname = "node"
	}

	return hostname + "-" + Random(4)
}

// Random returns n random bytes hex encoded.
func Random(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
