/*
 * Copyright 2025 The EventFlux Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package snapshot

import (
	"bytes"
	"fmt"
	"io"

	xsnappy "github.com/eapache/go-xerial-snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
)

// Compression selects the codec applied to a serialized snapshot payload
// before it reaches the persistence store. The choice is recorded in the
// snapshot header so restore picks the matching decoder.
type Compression int

const (
	NoCompression Compression = iota
	LZ4
	Snappy
	Zstd
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case LZ4:
		return "lz4"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression resolves a codec name from configuration.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return NoCompression, nil
	case "lz4":
		return LZ4, nil
	case "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	default:
		return NoCompression, fmt.Errorf("snapshot: unknown compression %q", name)
	}
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Compress encodes data with codec c.
func Compress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case NoCompression:
		return data, nil
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("snapshot: lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("snapshot: lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	case Snappy:
		return xsnappy.Encode(data), nil
	case Zstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("snapshot: unknown compression %d", c)
	}
}

// Decompress decodes data previously produced by Compress with codec c.
func Decompress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case NoCompression:
		return data, nil
	case LZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("snapshot: lz4 decompress: %w", err)
		}
		return out, nil
	case Snappy:
		out, err := xsnappy.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("snapshot: snappy decompress: %w", err)
		}
		return out, nil
	case Zstd:
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("snapshot: zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("snapshot: unknown compression %d", c)
	}
}
