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
	"errors"
	"fmt"
)

var (
	// ErrServiceUnavailable is matched by every ClusterUnavailableError.
	ErrServiceUnavailable = errors.New("vfailover: service unavailable")

	// ErrNoTargets means the view had no target left to choose.
	ErrNoTargets = errors.New("vfailover: no target available")

	// ErrUnknownPolicy is returned for policy names without a registered factory.
	ErrUnknownPolicy = errors.New("vfailover: unknown load balance policy")
)

// CompletionStatus tells how far a failed remote call got.
type CompletionStatus int

const (
	// CompletedNo means the call did not execute on the target.
	CompletedNo CompletionStatus = iota
	// CompletedYes means the call executed before the failure.
	CompletedYes
	// CompletedMaybe means the call may have executed.
	CompletedMaybe
)

func (s CompletionStatus) String() string {
	switch s {
	case CompletedNo:
		return "completed-no"
	case CompletedYes:
		return "completed-yes"
	case CompletedMaybe:
		return "completed-maybe"
	default:
		return fmt.Sprintf("completion-status(%d)", int(s))
	}
}

// ClusteringError is raised by a target's clustering layer, e.g. while the
// service is being redeployed or the node is shutting down.
type ClusteringError struct {
	Status CompletionStatus
	// Definitive marks a failure that will not go away on retry against the same target.
	Definitive bool
	Err        error
}

func (e *ClusteringError) Error() string {
	return fmt.Sprintf("clustering error (%s, definitive=%t): %v", e.Status, e.Definitive, e.Err)
}

func (e *ClusteringError) Unwrap() error { return e.Err }

// ApplicationError wraps a business-logic failure of the remote call so it
// can travel through the transport. The proxy returns Cause unchanged.
type ApplicationError struct {
	Cause error
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("application error: %v", e.Cause)
}

func (e *ApplicationError) Unwrap() error { return e.Cause }

// TransportError is a communication failure with one target.
type TransportError struct {
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error with %s: %v", e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ClusterUnavailableError is returned once no target is left to try.
// It wraps the last transport error seen.
type ClusterUnavailableError struct {
	Family  string
	LastErr error
}

func (e *ClusterUnavailableError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("vfailover: service unavailable: %s", e.Family)
	}
	return fmt.Sprintf("vfailover: service unavailable: %s: %v", e.Family, e.LastErr)
}

func (e *ClusterUnavailableError) Unwrap() []error {
	if e.LastErr == nil {
		return []error{ErrServiceUnavailable}
	}
	return []error{ErrServiceUnavailable, e.LastErr}
}

// AmbiguousFailureError is returned when a clustering error reports that the
// call may have executed; the proxy does not retry it.
type AmbiguousFailureError struct {
	Target string
	Err    *ClusteringError
}

func (e *AmbiguousFailureError) Error() string {
	return fmt.Sprintf("vfailover: clustering failure on %s: %v", e.Target, e.Err)
}

func (e *AmbiguousFailureError) Unwrap() error { return e.Err }

// Outcome classifies the result of one invocation attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransportFailure
	// OutcomeClusteringRetryable is a clustering error of a call that did not execute.
	OutcomeClusteringRetryable
	// OutcomeClusteringAmbiguous is a clustering error of a call that executed or may have.
	OutcomeClusteringAmbiguous
	OutcomeApplication
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransportFailure:
		return "transport-failure"
	case OutcomeClusteringRetryable:
		return "clustering-retryable"
	case OutcomeClusteringAmbiguous:
		return "clustering-ambiguous"
	case OutcomeApplication:
		return "application"
	default:
		return "unknown"
	}
}

// Classify maps an attempt's error onto an Outcome. Application errors win
// over anything they wrap.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return OutcomeApplication
	}

	var clusterErr *ClusteringError
	if errors.As(err, &clusterErr) {
		if clusterErr.Status == CompletedNo {
			return OutcomeClusteringRetryable
		}
		return OutcomeClusteringAmbiguous
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return OutcomeTransportFailure
	}

	return OutcomeUnknown
}
