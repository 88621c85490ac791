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
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CodecVersion is written into every encoded state.
const CodecVersion = 1

type stateEnvelope struct {
	Version int             `json:"v"`
	State   json.RawMessage `json:"state"`
}

// Codec turns bean state into zstd compressed, versioned JSON.
// Identical state always encodes to identical bytes. A Codec is safe for
// concurrent use.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a codec.
func NewCodec() (*Codec, error) {
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("vsession: create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(64<<20),
	)
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("vsession: create decoder: %w", err)
	}

	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Encode serializes bean.
func (c *Codec) Encode(bean any) ([]byte, error) {
	state, err := json.Marshal(bean)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}

	data, err := json.Marshal(stateEnvelope{Version: CodecVersion, State: state})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	return c.encoder.EncodeAll(data, nil), nil
}

// Decode restores data into bean, which must be a pointer.
func (c *Codec) Decode(data []byte, bean any) error {
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress state: %w", err)
	}

	var env stateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version != CodecVersion {
		return fmt.Errorf("unsupported state version %d", env.Version)
	}

	if err := json.Unmarshal(env.State, bean); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	return nil
}

// Close releases the codec resources.
func (c *Codec) Close() {
	_ = c.encoder.Close()
	c.decoder.Close()
}
