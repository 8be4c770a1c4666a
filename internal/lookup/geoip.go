// Package lookup provides enrichment tables keyed by event field values.
// The only table today is GeoIP, backed by a MaxMind MMDB file.
package lookup

import (
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oschwald/maxminddb-golang"

	"github.com/msgpo/lumber-mill/internal/event"
)

// GeoIPInfo describes a loaded MMDB database.
type GeoIPInfo struct {
	DatabaseType string
	BuildTime    time.Time
}

// cityRecord contains only the fields we decode from a city-schema MMDB
// file (GeoLite2-City / GeoIP2-City layout).
type cityRecord struct {
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Continent struct {
		Code string `maxminddb:"code"`
	} `maxminddb:"continent"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
		TimeZone  string  `maxminddb:"time_zone"`
	} `maxminddb:"location"`
}

// Fields a GeoIP lookup can produce, in output order.
var GeoIPFields = []string{
	"country_code",
	"country_name",
	"city_name",
	"continent_code",
	"latitude",
	"longitude",
	"timezone",
}

// GeoIP maps IP addresses to geographic attributes from a MaxMind MMDB
// file. Safe for concurrent use; the reader is swapped atomically so
// lookups never block on a reload.
type GeoIP struct {
	reader atomic.Pointer[maxminddb.Reader]

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

var _ Table = (*GeoIP)(nil)

// NewGeoIP creates an empty GeoIP table; Lookup misses until a database
// is loaded via Load or WatchFile.
func NewGeoIP() *GeoIP {
	return &GeoIP{}
}

// Suffixes lists the attribute names a city-schema lookup can produce.
func (g *GeoIP) Suffixes() []string {
	return slices.Clone(GeoIPFields)
}

// Lookup resolves an IP address to an object of geographic attributes,
// keeping only the requested fields (all of GeoIPFields when fields is
// empty). The second return is false on a miss: no database, unparsable
// address, address not present, or no requested attribute populated.
func (g *GeoIP) Lookup(addr string, fields []string) (event.Value, bool) {
	r := g.reader.Load()
	if r == nil {
		return event.Value{}, false
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return event.Value{}, false
	}

	var rec cityRecord
	if err := r.Lookup(ip, &rec); err != nil {
		return event.Value{}, false
	}

	keep := func(name string) bool {
		return len(fields) == 0 || slices.Contains(fields, name)
	}
	out := event.NewObject()
	n := 0
	put := func(name string, v event.Value) {
		if keep(name) {
			_ = out.Set(name, v)
			n++
		}
	}
	if rec.Country.ISOCode != "" {
		put("country_code", event.NewString(rec.Country.ISOCode))
	}
	if name := rec.Country.Names["en"]; name != "" {
		put("country_name", event.NewString(name))
	}
	if name := rec.City.Names["en"]; name != "" {
		put("city_name", event.NewString(name))
	}
	if rec.Continent.Code != "" {
		put("continent_code", event.NewString(rec.Continent.Code))
	}
	if rec.Location.Latitude != 0 || rec.Location.Longitude != 0 {
		put("latitude", event.NewNumber(rec.Location.Latitude))
		put("longitude", event.NewNumber(rec.Location.Longitude))
	}
	if rec.Location.TimeZone != "" {
		put("timezone", event.NewString(rec.Location.TimeZone))
	}

	if n == 0 {
		return event.Value{}, false
	}
	return out, true
}

// Load opens an MMDB file and swaps the atomic reader pointer.
// The old reader is closed after the swap.
func (g *GeoIP) Load(path string) (GeoIPInfo, error) {
	r, err := maxminddb.Open(path)
	if err != nil {
		return GeoIPInfo{}, fmt.Errorf("open mmdb %q: %w", path, err)
	}
	info := GeoIPInfo{
		DatabaseType: r.Metadata.DatabaseType,
		BuildTime:    time.Unix(int64(r.Metadata.BuildEpoch), 0), //nolint:gosec // BuildEpoch is a uint, safe for unix timestamps
	}
	old := g.reader.Swap(r)
	if old != nil {
		_ = old.Close()
	}
	return info, nil
}

// WatchFile loads an MMDB file and reloads it whenever it changes on
// disk, so a refreshed database picks up without a restart. Calling
// WatchFile again replaces the previous watch.
func (g *GeoIP) WatchFile(path string) error {
	if _, err := g.Load(path); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopWatchLocked()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %q: %w", path, err)
	}

	g.watcher = w
	g.watchDone = make(chan struct{})
	go g.watchLoop(w, path, g.watchDone)
	return nil
}

func (g *GeoIP) watchLoop(w *fsnotify.Watcher, path string, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				_, _ = g.Load(path)
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

func (g *GeoIP) stopWatchLocked() {
	if g.watcher != nil {
		_ = g.watcher.Close()
		<-g.watchDone
		g.watcher = nil
		g.watchDone = nil
	}
}

// Close stops the file watcher and closes the current MMDB reader.
func (g *GeoIP) Close() {
	g.mu.Lock()
	g.stopWatchLocked()
	g.mu.Unlock()

	if r := g.reader.Swap(nil); r != nil {
		_ = r.Close()
	}
}
