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

// Package caller derives stable names from call sites.
package caller

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// Name returns "file:function:line" for the caller, skip frames up the stack
// (0 = caller of Name). Dots in the function name become dashes so the result
// is usable as a store category. An unknown frame yields "".
func Name(skip int) string {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return ""
	}

	funcName := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcName = strings.ReplaceAll(filepath.Base(fn.Name()), ".", "-")
	}

	return fmt.Sprintf("%s:%s:%d", filepath.Base(file), funcName, line)
}
