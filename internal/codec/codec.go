// Package codec wraps the compression formats events travel in: gzip,
// zlib, and zstd. Malformed input surfaces as ErrDecode, never as
// silently empty output.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// ErrDecode means input claimed by a codec did not decode: truncated or
// corrupt compressed data, bad base64, unparsable JSON. Decode stages
// wrap their failures in it.
var ErrDecode = errors.New("decode failed")

// Format identifies a compression codec.
type Format uint8

const (
	Gzip Format = iota
	Zlib
	Zstd
)

func (f Format) String() string {
	switch f {
	case Gzip:
		return "gzip"
	case Zlib:
		return "zlib"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// zstdDec and zstdEnc are package-level and concurrent-safe; EncodeAll
// and DecodeAll never share state between calls.
var (
	zstdDec *zstd.Decoder
	zstdEnc *zstd.Encoder
)

func init() {
	var err error
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("zstd: init decoder: " + err.Error())
	}
	zstdEnc, err = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		panic("zstd: init encoder: " + err.Error())
	}
}

// Compress encodes data in the given format.
func Compress(f Format, data []byte) ([]byte, error) {
	switch f {
	case Zstd:
		return zstdEnc.EncodeAll(data, nil), nil
	case Gzip, Zlib:
		var buf bytes.Buffer
		var w io.WriteCloser
		if f == Gzip {
			w = gzip.NewWriter(&buf)
		} else {
			w = zlib.NewWriter(&buf)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("%s compress: %w", f, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("%s compress: %w", f, err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("compress: unknown format %d", f)
	}
}

// Decompress decodes data in the given format.
func Decompress(f Format, data []byte) ([]byte, error) {
	if f == Zstd {
		out, err := zstdDec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w: %w", ErrDecode, err)
		}
		return out, nil
	}
	r, err := Reader(f, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", f, ErrDecode, err)
	}
	return out, nil
}

// Reader returns a streaming decompressor over r.
func Reader(f Format, r io.Reader) (io.ReadCloser, error) {
	switch f {
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w: %w", ErrDecode, err)
		}
		return zr, nil
	case Zlib:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zlib: %w: %w", ErrDecode, err)
		}
		return zr, nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w: %w", ErrDecode, err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("reader: unknown format %d", f)
	}
}
