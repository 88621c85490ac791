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

package caller

import (
	"strings"
	"testing"
)

func TestName(t *testing.T) {
	name := Name(0)

	parts := strings.Split(name, ":")
	if len(parts) != 3 {
		t.Fatalf("Expected file:function:line, got %s", name)
	}
	if parts[0] != "caller_test.go" {
		t.Errorf("Expected caller_test.go, got %s", parts[0])
	}
	if !strings.Contains(parts[1], "TestName") {
		t.Errorf("Expected function to contain TestName, got %s", parts[1])
	}
	if strings.Contains(parts[1], ".") {
		t.Errorf("Expected dots to be replaced, got %s", parts[1])
	}
	if parts[2] == "" {
		t.Error("Expected line number")
	}
}

func TestNameWithSkip(t *testing.T) {
	name := helper()
	if !strings.Contains(name, "TestNameWithSkip") {
		t.Errorf("Expected name of the helper's caller, got %s", name)
	}
}

func helper() string {
	return Name(1)
}

func TestNameSameCallSite(t *testing.T) {
	names := make([]string, 5)
	for i := range 5 {
		names[i] = Name(0)
	}
	for i := 1; i < 5; i++ {
		if names[i] != names[0] {
			t.Errorf("Expected same name for same call site, got %s vs %s", names[0], names[i])
		}
	}

	if other := Name(0); other == names[0] {
		t.Error("Expected different names for different lines")
	}
}

func TestNameInvalidSkip(t *testing.T) {
	if name := Name(1000); name != "" {
		t.Errorf("Expected empty string for invalid skip, got %s", name)
	}
}
