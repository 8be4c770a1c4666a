package stage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/msgpo/lumber-mill/internal/codec"
	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/pipeline"
	"github.com/msgpo/lumber-mill/internal/template"
)

// maxLineSize bounds a single log line when splitting files into events.
const maxLineSize = 1 << 20 // 1 MB

// GzipFileConfig configures a GzipFile stage.
type GzipFileConfig struct {
	// PathField holds the input file path. Defaults to "path".
	PathField string

	// OutputField receives the compressed file's path. Defaults to
	// "gzip_path_compressed".
	OutputField string
}

// GzipFile compresses the file named by one event field into a fresh
// temporary file and records that file's path in another field. The
// temporary file is removed when the owning run terminates.
func GzipFile(cfg GzipFileConfig) pipeline.Stage {
	if cfg.PathField == "" {
		cfg.PathField = "path"
	}
	if cfg.OutputField == "" {
		cfg.OutputField = "gzip_path_compressed"
	}
	return pipeline.Map(func(ctx context.Context, e *event.Event) (*event.Event, error) {
		path, ok := e.Field(cfg.PathField)
		if !ok {
			return nil, fmt.Errorf("gzip file: field %q: %w", cfg.PathField, template.ErrUnresolved)
		}
		out, err := copyToTemp(ctx, path, "lumbermill-*.gz", func(w io.Writer, r io.Reader) error {
			gz := gzip.NewWriter(w)
			if _, err := io.Copy(gz, r); err != nil {
				return err
			}
			return gz.Close()
		})
		if err != nil {
			return nil, fmt.Errorf("gzip file %q: %w", path, err)
		}
		if err := e.PutString(cfg.OutputField, out); err != nil {
			return nil, err
		}
		return e, nil
	})
}

// GunzipFileConfig configures a GunzipFile stage.
type GunzipFileConfig struct {
	// PathField holds the compressed file's path. Defaults to "path".
	PathField string

	// OutputField receives the decompressed file's path. Defaults to
	// "gzip_path_decompressed".
	OutputField string
}

// GunzipFile decompresses the gzip file named by one event field into a
// fresh temporary file and records that file's path in another field.
// The temporary file is removed when the owning run terminates.
func GunzipFile(cfg GunzipFileConfig) pipeline.Stage {
	if cfg.PathField == "" {
		cfg.PathField = "path"
	}
	if cfg.OutputField == "" {
		cfg.OutputField = "gzip_path_decompressed"
	}
	return pipeline.Map(func(ctx context.Context, e *event.Event) (*event.Event, error) {
		path, ok := e.Field(cfg.PathField)
		if !ok {
			return nil, fmt.Errorf("gunzip file: field %q: %w", cfg.PathField, template.ErrUnresolved)
		}
		out, err := copyToTemp(ctx, path, "lumbermill-*", func(w io.Writer, r io.Reader) error {
			zr, err := codec.Reader(codec.Gzip, r)
			if err != nil {
				return err
			}
			if _, err := io.Copy(w, zr); err != nil {
				_ = zr.Close()
				return fmt.Errorf("%w: %w", codec.ErrDecode, err)
			}
			return zr.Close()
		})
		if err != nil {
			return nil, fmt.Errorf("gunzip file %q: %w", path, err)
		}
		if err := e.PutString(cfg.OutputField, out); err != nil {
			return nil, err
		}
		return e, nil
	})
}

// copyToTemp streams src through transform into a temporary file whose
// removal is registered on the run scope, returning its path. On error
// the file is removed immediately.
func copyToTemp(ctx context.Context, src, pattern string, transform func(io.Writer, io.Reader) error) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	if s := pipeline.ScopeFrom(ctx); s != nil {
		s.Defer(func() { _ = os.Remove(name) })
	}

	if err := transform(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// ReadFileLines fans an event out into one child event per line of the
// file named by pathField, each carrying the line under "message" plus
// the parent's metadata. An unreadable file aborts the event.
func ReadFileLines(pathField string) pipeline.Stage {
	if pathField == "" {
		pathField = "path"
	}
	return pipeline.FlatMap(func(_ context.Context, e *event.Event) ([]*event.Event, error) {
		path, ok := e.Field(pathField)
		if !ok {
			return nil, fmt.Errorf("read lines: field %q: %w", pathField, template.ErrUnresolved)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("read lines: %w", err)
		}
		defer func() { _ = f.Close() }()

		var out []*event.Event
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 64*1024), maxLineSize)
		for sc.Scan() {
			payload := event.NewObject()
			_ = payload.Set("message", event.NewString(sc.Text()))
			_ = payload.Set(event.TagsField, event.NewArray())
			out = append(out, e.NewChild(payload))
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read lines %q: %w", path, err)
		}
		return out, nil
	})
}
