// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress stores byte payloads in a self-describing
// compressed envelope.
//
// An envelope is one tag byte, the uncompressed length as a uvarint,
// then the (possibly compressed) bytes. The audit log stores entry
// payloads this way: most are small and stay uncompressed, while
// bulk pricing changes shrink several-fold under zstd.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the algorithm in an envelope. Values are stored on
// disk and must not change.
type Tag uint8

const (
	// None stores the payload as is.
	None Tag = 0
	// LZ4 is LZ4 block compression: fastest to decode.
	LZ4 Tag = 1
	// Zstd is zstd at the default level: best ratio for JSON-like
	// text.
	Zstd Tag = 2
)

// MinimumSize is the payload size below which Pack never compresses.
const MinimumSize = 128

// maxUncompressedSize bounds what Unpack will allocate.
const maxUncompressedSize = 64 << 20

// String returns the algorithm name.
func (tag Tag) String() string {
	switch tag {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseTag parses an algorithm name.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("compress: unknown algorithm %q", name)
	}
}

var errIncompressible = errors.New("compress: data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxUncompressedSize))
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Pack wraps data in an envelope, compressing with preferred when the
// payload is at least MinimumSize bytes and compression actually
// shrinks it. Otherwise the envelope is tagged None.
func Pack(data []byte, preferred Tag) ([]byte, error) {
	tag := None
	body := data
	if len(data) >= MinimumSize && preferred != None {
		compressed, err := compressWith(preferred, data)
		switch {
		case err == nil:
			tag, body = preferred, compressed
		case errors.Is(err, errIncompressible):
		default:
			return nil, err
		}
	}

	header := make([]byte, 1, 1+binary.MaxVarintLen64+len(body))
	header[0] = byte(tag)
	header = binary.AppendUvarint(header, uint64(len(data)))
	return append(header, body...), nil
}

// Unpack returns the payload stored in envelope.
func Unpack(envelope []byte) ([]byte, error) {
	if len(envelope) < 2 {
		return nil, fmt.Errorf("compress: envelope too short (%d bytes)", len(envelope))
	}
	tag := Tag(envelope[0])
	size, headerLength := binary.Uvarint(envelope[1:])
	if headerLength <= 0 {
		return nil, fmt.Errorf("compress: malformed length prefix")
	}
	if size > maxUncompressedSize {
		return nil, fmt.Errorf("compress: declared size %d exceeds limit", size)
	}
	body := envelope[1+headerLength:]

	switch tag {
	case None:
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("compress: stored %d bytes, header says %d", len(body), size)
		}
		return body, nil
	case LZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(body, destination)
		if err != nil {
			return nil, fmt.Errorf("compress: lz4: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("compress: lz4 produced %d bytes, header says %d", read, size)
		}
		return destination, nil
	case Zstd:
		decoded, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}
		if uint64(len(decoded)) != size {
			return nil, fmt.Errorf("compress: zstd produced %d bytes, header says %d", len(decoded), size)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("compress: unsupported tag %s", tag)
	}
}

// TagOf returns the algorithm an envelope was packed with.
func TagOf(envelope []byte) Tag {
	if len(envelope) == 0 {
		return None
	}
	return Tag(envelope[0])
}

func compressWith(tag Tag, data []byte) ([]byte, error) {
	switch tag {
	case LZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("compress: lz4: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case Zstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("compress: unsupported tag %s", tag)
	}
}
