package codec

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	payloads := map[string][]byte{
		"empty":      {},
		"short":      []byte("hello"),
		"repetitive": bytes.Repeat([]byte("log line 42\n"), 1000),
	}
	for _, f := range []Format{Gzip, Zlib, Zstd} {
		for name, payload := range payloads {
			t.Run(f.String()+"/"+name, func(t *testing.T) {
				packed, err := Compress(f, payload)
				if err != nil {
					t.Fatalf("Compress: %v", err)
				}
				back, err := Decompress(f, packed)
				if err != nil {
					t.Fatalf("Decompress: %v", err)
				}
				if !bytes.Equal(back, payload) {
					t.Errorf("round trip changed payload: %d bytes in, %d out", len(payload), len(back))
				}
			})
		}
	}
}

func TestDecompressMalformed(t *testing.T) {
	for _, f := range []Format{Gzip, Zlib, Zstd} {
		t.Run(f.String(), func(t *testing.T) {
			if _, err := Decompress(f, []byte("definitely not compressed")); !errors.Is(err, ErrDecode) {
				t.Errorf("Decompress(%s, junk) err = %v, want ErrDecode", f, err)
			}
		})
	}
}

func TestDecompressTruncated(t *testing.T) {
	packed, err := Compress(Gzip, bytes.Repeat([]byte("x"), 4096))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if _, err := Decompress(Gzip, packed[:len(packed)/2]); !errors.Is(err, ErrDecode) {
		t.Errorf("truncated gzip err = %v, want ErrDecode", err)
	}
}

func TestStreamingReader(t *testing.T) {
	payload := strings.Repeat("streamed line\n", 64)
	for _, f := range []Format{Gzip, Zlib, Zstd} {
		t.Run(f.String(), func(t *testing.T) {
			packed, err := Compress(f, []byte(payload))
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			r, err := Reader(f, bytes.NewReader(packed))
			if err != nil {
				t.Fatalf("Reader: %v", err)
			}
			defer func() { _ = r.Close() }()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if string(got) != payload {
				t.Errorf("streamed %d bytes, want %d", len(got), len(payload))
			}
		})
	}
}
