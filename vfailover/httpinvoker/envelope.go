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

// Package httpinvoker carries failover invocations over HTTP.
package httpinvoker

import (
	"errors"

	"github.com/vogo/vcluster/vfailover"
)

const (
	HeaderFailoverCounter = "X-Failover-Counter"
	HeaderViewID          = "X-View-Id"

	invokePath = "/invoke/"
)

const (
	kindApplication = "application"
	kindClustering  = "clustering"
)

// RemoteError is an application failure reported by the remote service.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

type errorBody struct {
	Kind       string `json:"kind"`
	Status     int    `json:"status,omitempty"`
	Definitive bool   `json:"definitive,omitempty"`
	Message    string `json:"message"`
}

type envelope struct {
	Payload     []byte     `json:"payload,omitempty"`
	Error       *errorBody `json:"error,omitempty"`
	ViewChanged bool       `json:"view_changed,omitempty"`
	Replicants  []string   `json:"replicants,omitempty"`
	ViewID      uint64     `json:"view_id,omitempty"`
}

func encodeError(err error) *errorBody {
	var clusterErr *vfailover.ClusteringError
	if errors.As(err, &clusterErr) {
		msg := "clustering failure"
		if clusterErr.Err != nil {
			msg = clusterErr.Err.Error()
		}
		return &errorBody{
			Kind:       kindClustering,
			Status:     int(clusterErr.Status),
			Definitive: clusterErr.Definitive,
			Message:    msg,
		}
	}

	return &errorBody{Kind: kindApplication, Message: err.Error()}
}

func (b *errorBody) decode() error {
	if b.Kind == kindClustering {
		return &vfailover.ClusteringError{
			Status:     vfailover.CompletionStatus(b.Status),
			Definitive: b.Definitive,
			Err:        errors.New(b.Message),
		}
	}

	return &vfailover.ApplicationError{Cause: &RemoteError{Message: b.Message}}
}
