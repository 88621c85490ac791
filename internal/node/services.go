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
	"encoding/json"
	"fmt"

	"github.com/vogo/vcluster/vfailover"
	"github.com/vogo/vcluster/vsession"
	"github.com/vogo/vcluster/vtimed"
)

// Service names registered on every node.
const (
	CacheService   = "cache"
	SessionService = "session"
)

// CacheRequest is the payload of cache invocations.
type CacheRequest struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// CacheResponse is the result of cache invocations.
type CacheResponse struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Found   bool   `json:"found,omitempty"`
	Removed bool   `json:"removed,omitempty"`
	Size    int    `json:"size,omitempty"`
}

// cacheService serves the timed cache with methods get, put, remove and size.
type cacheService struct {
	cache *vtimed.Cache[string, string]
}

func (s *cacheService) Invoke(ctx context.Context, inv *vfailover.Invocation) ([]byte, error) {
	var req CacheRequest
	if err := decodePayload(inv, &req); err != nil {
		return nil, err
	}

	resp := CacheResponse{Key: req.Key}
	switch inv.Method {
	case "get":
		resp.Value, resp.Found = s.cache.Get(ctx, req.Key)
	case "put":
		if err := s.cache.Insert(ctx, req.Key, req.Value); err != nil {
			return nil, err
		}
		resp.Value = req.Value
	case "remove":
		resp.Removed = s.cache.Remove(ctx, req.Key)
	case "size":
		resp.Size = s.cache.Size(ctx)
	default:
		return nil, fmt.Errorf("unknown cache method %q", inv.Method)
	}

	return json.Marshal(resp)
}

// SessionRequest is the payload of session invocations.
type SessionRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// SessionResponse is the result of session invocations.
type SessionResponse struct {
	ID     string            `json:"id"`
	Values map[string]string `json:"values,omitempty"`
}

// sessionService serves replicated attribute sessions with methods create,
// get, set and remove. A session is owned only while a call uses it.
type sessionService struct {
	sessions *vsession.Manager[*Attributes]
}

func (s *sessionService) Invoke(ctx context.Context, inv *vfailover.Invocation) ([]byte, error) {
	var req SessionRequest
	if err := decodePayload(inv, &req); err != nil {
		return nil, err
	}

	if inv.Method == "create" {
		return s.create(ctx)
	}

	session, err := s.sessions.Activate(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	switch inv.Method {
	case "get":
	case "set":
		session.Bean.Values[req.Name] = req.Value
		if err := s.sessions.Synchronize(ctx, session); err != nil {
			_ = s.sessions.Release(ctx, session.ID)
			return nil, err
		}
	case "remove":
		if err := s.sessions.Remove(ctx, session); err != nil {
			return nil, err
		}
		return json.Marshal(SessionResponse{ID: session.ID})
	default:
		_ = s.sessions.Release(ctx, session.ID)
		return nil, fmt.Errorf("unknown session method %q", inv.Method)
	}

	if err := s.sessions.Release(ctx, session.ID); err != nil {
		return nil, err
	}
	return json.Marshal(SessionResponse{ID: session.ID, Values: session.Bean.Values})
}

func (s *sessionService) create(ctx context.Context) ([]byte, error) {
	session := &vsession.Session[*Attributes]{
		ID:   s.sessions.CreateID(),
		Bean: newAttributes(),
	}

	if err := s.sessions.Created(ctx, session.ID); err != nil {
		return nil, err
	}
	if err := s.sessions.Synchronize(ctx, session); err != nil {
		return nil, err
	}

	return json.Marshal(SessionResponse{ID: session.ID})
}

func decodePayload(inv *vfailover.Invocation, v any) error {
	if len(inv.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(inv.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", inv.Service, err)
	}
	return nil
}
