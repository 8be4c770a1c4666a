package stage

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/pipeline"
	"github.com/msgpo/lumber-mill/internal/template"
)

// FingerprintConfig configures a Fingerprint stage.
type FingerprintConfig struct {
	// Source is the template whose resolved text gets hashed; combine
	// several fields in one template to fingerprint them together.
	Source *template.Template
	Env    template.Env

	// Target is the output field. Defaults to "fingerprint".
	Target string

	// Algorithm is md5 (default), sha1, or sha256.
	Algorithm string
}

// Fingerprint hashes resolved template text into a hex content
// identifier field. An unresolvable source aborts the event.
func Fingerprint(cfg FingerprintConfig) (pipeline.Stage, error) {
	if cfg.Target == "" {
		cfg.Target = "fingerprint"
	}
	var newHash func() hash.Hash
	switch cfg.Algorithm {
	case "", "md5":
		newHash = md5.New
	case "sha1":
		newHash = sha1.New
	case "sha256":
		newHash = sha256.New
	default:
		return nil, fmt.Errorf("fingerprint: unknown algorithm %q", cfg.Algorithm)
	}

	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		s, err := cfg.Source.Resolve(e, cfg.Env)
		if err != nil {
			return nil, fmt.Errorf("fingerprint: %w", err)
		}
		h := newHash()
		h.Write([]byte(s))
		if err := e.PutString(cfg.Target, hex.EncodeToString(h.Sum(nil))); err != nil {
			return nil, err
		}
		return e, nil
	}), nil
}
