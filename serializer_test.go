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
	"testing"
)

func TestJSONKeySerializerStructKey(t *testing.T) {
	type SessionKey struct {
		App string `json:"app"`
		ID  int    `json:"id"`
	}

	s := JSONKeySerializer[SessionKey]{}

	original := SessionKey{App: "shop", ID: 7}
	serialized, err := s.Serialize(original)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if serialized != `{"app":"shop","id":7}` {
		t.Errorf("Unexpected serialized key %q", serialized)
	}

	key, err := s.Deserialize(serialized)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if key != original {
		t.Errorf("Expected %+v, got %+v", original, key)
	}
}

func TestDefaultSerializeScalars(t *testing.T) {
	if s, _ := DefaultSerialize("node-a:1"); s != "node-a:1" {
		t.Errorf("Expected string key unchanged, got %q", s)
	}
	if s, _ := DefaultSerialize(42); s != "42" {
		t.Errorf("Expected 42, got %q", s)
	}
	if s, _ := DefaultSerialize(int64(-9)); s != "-9" {
		t.Errorf("Expected -9, got %q", s)
	}
	if s, _ := DefaultSerialize(uint64(18446744073709551615)); s != "18446744073709551615" {
		t.Errorf("Expected max uint64, got %q", s)
	}
}

func TestDefaultDeserializeScalars(t *testing.T) {
	if v, err := DefaultDeserialize[int]("42"); err != nil || v != 42 {
		t.Errorf("Expected 42, got %d (err=%v)", v, err)
	}
	if v, err := DefaultDeserialize[int64]("-9"); err != nil || v != -9 {
		t.Errorf("Expected -9, got %d (err=%v)", v, err)
	}
	if v, err := DefaultDeserialize[uint64]("7"); err != nil || v != 7 {
		t.Errorf("Expected 7, got %d (err=%v)", v, err)
	}
	if _, err := DefaultDeserialize[int]("not-a-number"); err == nil {
		t.Error("Expected error for invalid int key")
	}
	if _, err := DefaultDeserialize[uint64]("-1"); err == nil {
		t.Error("Expected error for negative uint64 key")
	}
}

func TestJSONValueCodec(t *testing.T) {
	type cart struct {
		Items []string `json:"items"`
		Total int      `json:"total"`
	}

	codec := JSONValueCodec[cart]{}
	data, err := codec.Encode(cart{Items: []string{"book"}, Total: 12})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	v, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(v.Items) != 1 || v.Items[0] != "book" || v.Total != 12 {
		t.Errorf("Unexpected decoded value %+v", v)
	}

	if _, err := codec.Decode([]byte("{")); err == nil {
		t.Error("Expected error for truncated JSON")
	}
}
