package stage

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maxmind/mmdbwriter"
	"github.com/maxmind/mmdbwriter/mmdbtype"

	"github.com/msgpo/lumber-mill/internal/lookup"
	"github.com/msgpo/lumber-mill/internal/template"
)

const chromeOnWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

func TestUserAgentStage(t *testing.T) {
	st := UserAgent(UserAgentConfig{
		Source: template.MustCompile("{agent}"),
		Env:    template.MapEnv{},
	})

	out := applyOne(t, st, evJSON(t, `{"agent":"`+chromeOnWindows+`"}`))
	v, ok := out.Lookup("user_agent")
	if !ok {
		t.Fatal("user_agent not set")
	}
	if name, _ := v.Field("name"); name.Text() != "Chrome" {
		t.Errorf("name = %q", name.Text())
	}
	if osName, _ := v.Field("os"); osName.Text() != "Windows" {
		t.Errorf("os = %q", osName.Text())
	}
	if desktop, present := v.Field("desktop"); !present || desktop.Text() != "true" {
		t.Errorf("desktop = %v, %v", desktop, present)
	}
	if _, present := v.Field("bot"); present {
		t.Error("bot flag set for a browser agent")
	}

	// Missing source: enrichment skipped, event unchanged.
	out = applyOne(t, st, evJSON(t, `{}`))
	if out.Has("user_agent") {
		t.Error("user_agent set without a source field")
	}
}

func geoFixture(t *testing.T) *lookup.GeoIP {
	t.Helper()
	tree, err := mmdbwriter.New(mmdbwriter.Options{
		DatabaseType:            "Test-City",
		RecordSize:              24,
		IncludeReservedNetworks: true,
	})
	if err != nil {
		t.Fatalf("mmdbwriter.New: %v", err)
	}
	_, network, _ := net.ParseCIDR("81.2.69.142/32")
	if err := tree.Insert(network, mmdbtype.Map{
		"country": mmdbtype.Map{
			"iso_code": mmdbtype.String("GB"),
		},
		"city": mmdbtype.Map{
			"names": mmdbtype.Map{"en": mmdbtype.String("London")},
		},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	path := filepath.Join(t.TempDir(), "test.mmdb")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := tree.WriteTo(f); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	db := lookup.NewGeoIP()
	t.Cleanup(db.Close)
	if _, err := db.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return db
}

func TestLookupStageGeoIP(t *testing.T) {
	db := geoFixture(t)
	st := Lookup(LookupConfig{
		Source: template.MustCompile("{client_ip}"),
		Env:    template.MapEnv{},
		Target: "geoip",
		Table:  db,
	})

	out := applyOne(t, st, evJSON(t, `{"client_ip":"81.2.69.142"}`))
	geo, ok := out.Lookup("geoip")
	if !ok {
		t.Fatal("geoip not set")
	}
	if cc, _ := geo.Field("country_code"); cc.Text() != "GB" {
		t.Errorf("country_code = %q", cc.Text())
	}
	if city, _ := geo.Field("city_name"); city.Text() != "London" {
		t.Errorf("city_name = %q", city.Text())
	}

	// Misses pass through unchanged: absent address, unparsable address,
	// missing source field.
	for _, payload := range []string{`{"client_ip":"9.9.9.9"}`, `{"client_ip":"not-an-ip"}`, `{}`} {
		out := applyOne(t, st, evJSON(t, payload))
		if out.Has("geoip") {
			t.Errorf("payload %s: geoip set on a miss", payload)
		}
	}
}

func TestLookupStageFieldFilterAndTarget(t *testing.T) {
	db := geoFixture(t)
	st := Lookup(LookupConfig{
		Source: template.MustCompile("{client_ip}"),
		Env:    template.MapEnv{},
		Target: "geo",
		Fields: []string{"country_code"},
		Table:  db,
	})
	out := applyOne(t, st, evJSON(t, `{"client_ip":"81.2.69.142"}`))
	geo, ok := out.Lookup("geo")
	if !ok {
		t.Fatal("geo not set")
	}
	if geo.Len() != 1 {
		t.Errorf("geo has %d fields, want 1", geo.Len())
	}
}

func TestJSONPathStage(t *testing.T) {
	t.Run("single node", func(t *testing.T) {
		st, err := JSONPath(JSONPathConfig{Path: "$.request.path", Target: "path"})
		if err != nil {
			t.Fatalf("JSONPath: %v", err)
		}
		out := applyOne(t, st, evJSON(t, `{"request":{"path":"/index.html"}}`))
		if got, _ := out.Field("path"); got != "/index.html" {
			t.Errorf("path = %q", got)
		}
	})

	t.Run("multiple nodes", func(t *testing.T) {
		st, err := JSONPath(JSONPathConfig{Path: "$.servers[*].host", Target: "hosts"})
		if err != nil {
			t.Fatalf("JSONPath: %v", err)
		}
		out := applyOne(t, st, evJSON(t, `{"servers":[{"host":"a"},{"host":"b"}]}`))
		v, _ := out.Lookup("hosts")
		if v.Len() != 2 {
			t.Fatalf("hosts len = %d", v.Len())
		}
		if first, _ := v.Index(0); first.Text() != "a" {
			t.Errorf("hosts[0] = %q", first.Text())
		}
	})

	t.Run("no selection", func(t *testing.T) {
		st, err := JSONPath(JSONPathConfig{Path: "$.absent", Target: "x"})
		if err != nil {
			t.Fatalf("JSONPath: %v", err)
		}
		out := applyOne(t, st, evJSON(t, `{"present":1}`))
		if out.Has("x") {
			t.Error("target set with empty selection")
		}
	})

	t.Run("bad path", func(t *testing.T) {
		if _, err := JSONPath(JSONPathConfig{Path: "not a path", Target: "x"}); err == nil {
			t.Error("bad path accepted at construction")
		}
	})
}

func TestThrottleShapesFlow(t *testing.T) {
	st := Throttle(100, 1)
	e := evJSON(t, `{}`)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := st.Apply(context.Background(), e); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	// Burst covers the first event; the next two wait ~10ms each.
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("three events in %v; limiter did not pace", elapsed)
	}
}

func TestThrottleCancellation(t *testing.T) {
	st := Throttle(0.001, 1)
	e := evJSON(t, `{}`)
	if _, err := st.Apply(context.Background(), e); err != nil {
		t.Fatalf("first event: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := st.Apply(ctx, e); err == nil {
		t.Error("blocked throttle ignored cancellation")
	}
}
