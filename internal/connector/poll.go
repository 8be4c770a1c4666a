package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	petname "github.com/dustinkirkland/golang-petname"
	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/objectstore"
	"github.com/msgpo/lumber-mill/internal/pipeline"
	"github.com/msgpo/lumber-mill/internal/template"
)

// PollConfig configures a Poller.
type PollConfig struct {
	// Bucket to list. Required.
	Bucket string

	// Prefix narrows the listing. It is resolved against properties
	// and environment variables at every tick, so placeholders may
	// select a time- or host-dependent prefix.
	Prefix *template.Template
	Env    template.Env

	// Suffix keeps only keys ending with it. Empty keeps all.
	Suffix string

	// KeyGlob keeps only keys matching a doublestar pattern, e.g.
	// "2024/**/*.gz". Empty keeps all.
	KeyGlob string

	// MinObjectAge skips objects created more recently than this, so
	// in-progress writers get time to finish. Skipped objects stay
	// eligible for later ticks.
	MinObjectAge time.Duration

	// MaxConcurrent caps in-flight downstream runs. Defaults to 5.
	MaxConcurrent int64

	// Interval between poll ticks. Defaults to 5 seconds.
	Interval time.Duration

	// ListRate caps store list calls per second. Zero means unlimited.
	ListRate float64

	// Name labels the poller in logs and event metadata. Defaults to a
	// generated pet name.
	Name string
}

// Poller discovers newly arrived objects on a schedule and drives each
// through a pipeline as its own run. The seen set has a single writer,
// the tick loop; ticks never overlap.
type Poller struct {
	c   *Connector
	cfg PollConfig
	sem *semaphore.Weighted
	lim *rate.Limiter
	log *slog.Logger
	wg  sync.WaitGroup

	mu   sync.Mutex
	seen map[string]struct{}
}

// Poll builds a poller for one bucket and prefix.
func (c *Connector) Poll(cfg PollConfig) (*Poller, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("poll: bucket is required")
	}
	if cfg.KeyGlob != "" && !doublestar.ValidatePattern(cfg.KeyGlob) {
		return nil, fmt.Errorf("poll: invalid key glob %q", cfg.KeyGlob)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Env == nil {
		cfg.Env = template.OS
	}
	if cfg.Name == "" {
		cfg.Name = petname.Generate(2, "-")
	}
	p := &Poller{
		c:    c,
		cfg:  cfg,
		sem:  semaphore.NewWeighted(cfg.MaxConcurrent),
		log:  c.log.With("poller", cfg.Name, "bucket", cfg.Bucket),
		seen: map[string]struct{}{},
	}
	if cfg.ListRate > 0 {
		p.lim = rate.NewLimiter(rate.Limit(cfg.ListRate), 1)
	}
	return p, nil
}

// Run starts the poll schedule and blocks until ctx is cancelled. Every
// discovered object becomes one source event driven through pipe to
// sink as its own scoped run. At most MaxConcurrent runs are in flight
// at once; emission of further discoveries waits for a slot to free
// rather than queueing without bound. Run returns after in-flight runs
// have finished.
func (p *Poller) Run(ctx context.Context, pipe *pipeline.Pipeline, sink pipeline.Sink) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create poll scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(p.cfg.Interval),
		gocron.NewTask(func() { p.tick(ctx, pipe, sink) }),
		gocron.WithName(p.cfg.Name),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("create poll job: %w", err)
	}
	sched.Start()
	p.log.Info("poller started", "interval", p.cfg.Interval, "max_concurrent", p.cfg.MaxConcurrent)

	<-ctx.Done()
	if err := sched.Shutdown(); err != nil {
		p.log.Warn("poll scheduler shutdown", "error", err)
	}
	p.wg.Wait()
	p.log.Info("poller stopped")
	return ctx.Err()
}

// tick performs one discover-emit cycle. Emission acquires a run slot
// before spawning, so a full complement of in-flight runs blocks the
// tick here until one finishes.
func (p *Poller) tick(ctx context.Context, pipe *pipeline.Pipeline, sink pipeline.Sink) {
	discovered, err := p.discover(ctx)
	if err != nil {
		p.log.Warn("poll failed", "error", err)
		return
	}
	if len(discovered) > 0 {
		p.log.Debug("discovered objects", "count", len(discovered))
	}
	for _, info := range discovered {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		p.markSeen(info.Key)
		e := p.objectEvent(info)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.sem.Release(1)
			_ = pipe.RunOne(ctx, e, sink)
		}()
	}
}

// discover lists the bucket and returns objects that pass the suffix,
// glob, and age filters and have not been emitted before. The seen
// check runs after the filters, and an object is marked seen only at
// emission: one skipped for being too young stays eligible for a later
// tick, and one discovered but never emitted before shutdown is
// rediscovered on restart.
func (p *Poller) discover(ctx context.Context) ([]objectstore.ObjectInfo, error) {
	prefix := ""
	if p.cfg.Prefix != nil {
		resolved, err := p.cfg.Prefix.Resolve(event.New(event.NewObject()), p.cfg.Env)
		if err != nil {
			return nil, fmt.Errorf("resolve prefix: %w", err)
		}
		prefix = resolved
	}
	if p.lim != nil {
		if err := p.lim.Wait(ctx); err != nil {
			return nil, err
		}
	}

	cutoff := time.Now().Add(-p.cfg.MinObjectAge)
	var passed []objectstore.ObjectInfo
	for info, err := range p.c.store.List(ctx, p.cfg.Bucket, prefix) {
		if err != nil {
			return nil, err
		}
		if p.cfg.Suffix != "" && !strings.HasSuffix(info.Key, p.cfg.Suffix) {
			continue
		}
		if p.cfg.KeyGlob != "" {
			if ok, _ := doublestar.Match(p.cfg.KeyGlob, info.Key); !ok {
				continue
			}
		}
		if p.cfg.MinObjectAge > 0 && info.Created.After(cutoff) {
			continue
		}
		passed = append(passed, info)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fresh := passed[:0]
	for _, info := range passed {
		if _, ok := p.seen[info.Key]; ok {
			continue
		}
		fresh = append(fresh, info)
	}
	return fresh, nil
}

func (p *Poller) markSeen(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen[key] = struct{}{}
}

// objectEvent builds the source event for one discovered object. The
// payload carries the key; bucket, key, size, and poller name travel as
// metadata for downstream templates.
func (p *Poller) objectEvent(info objectstore.ObjectInfo) *event.Event {
	payload := event.NewObject()
	_ = payload.Set("key", event.NewString(info.Key))
	e := event.New(payload)
	e.SetMeta("bucket", p.cfg.Bucket)
	e.SetMeta("key", info.Key)
	e.SetMeta("size", strconv.FormatInt(info.Size, 10))
	e.SetMeta("poller", p.cfg.Name)
	return e
}

// Seen reports whether key has already been emitted.
func (p *Poller) Seen(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.seen[key]
	return ok
}
