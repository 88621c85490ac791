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

package vcluster

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// KeySerializer maps typed keys to the string keys of a Store.
type KeySerializer[K comparable] interface {
	Serialize(key K) (string, error)
	Deserialize(s string) (K, error)
}

// StringKeySerializer is a KeySerializer for string keys.
type StringKeySerializer struct{}

// Serialize returns the string as-is.
func (StringKeySerializer) Serialize(key string) (string, error) {
	return key, nil
}

// Deserialize returns the string as-is.
func (StringKeySerializer) Deserialize(s string) (string, error) {
	return s, nil
}

// JSONKeySerializer uses JSON encoding for arbitrary key types.
type JSONKeySerializer[K comparable] struct{}

// Serialize marshals the key to JSON.
func (JSONKeySerializer[K]) Serialize(key K) (string, error) {
	data, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("vcluster: serialize key: %w", err)
	}
	return string(data), nil
}

// Deserialize unmarshals the JSON string back to a key.
func (JSONKeySerializer[K]) Deserialize(s string) (K, error) {
	var key K
	if err := json.Unmarshal([]byte(s), &key); err != nil {
		return key, fmt.Errorf("vcluster: deserialize key: %w", err)
	}
	return key, nil
}

// DefaultSerialize is used when no serializer is configured.
// Strings and integers are written directly, anything else as JSON.
func DefaultSerialize[K comparable](key K) (string, error) {
	switch v := any(key).(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	default:
		return JSONKeySerializer[K]{}.Serialize(key)
	}
}

// DefaultDeserialize reverses DefaultSerialize.
func DefaultDeserialize[K comparable](s string) (K, error) {
	var zero K
	switch any(zero).(type) {
	case string:
		return any(s).(K), nil
	case int:
		v, err := strconv.Atoi(s)
		if err != nil {
			return zero, fmt.Errorf("vcluster: deserialize int key: %w", err)
		}
		return any(v).(K), nil
	case int64:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return zero, fmt.Errorf("vcluster: deserialize int64 key: %w", err)
		}
		return any(v).(K), nil
	case uint64:
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return zero, fmt.Errorf("vcluster: deserialize uint64 key: %w", err)
		}
		return any(v).(K), nil
	default:
		return JSONKeySerializer[K]{}.Deserialize(s)
	}
}

// ValueCodec encodes values into the opaque bytes kept by a Store.
type ValueCodec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// JSONValueCodec is the default ValueCodec.
type JSONValueCodec[V any] struct{}

// Encode marshals v to JSON.
func (JSONValueCodec[V]) Encode(v V) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("vcluster: encode value: %w", err)
	}
	return data, nil
}

// Decode unmarshals JSON data into a new V.
func (JSONValueCodec[V]) Decode(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("vcluster: decode value: %w", err)
	}
	return v, nil
}
