package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Map.MinZoom != 14 || cfg.Map.InitialZoom != 14 {
		t.Fatalf("zoom defaults = %d/%d want 14/14", cfg.Map.MinZoom, cfg.Map.InitialZoom)
	}
	if cfg.Map.DefaultCenter.Lat != 51.4979053 || cfg.Map.DefaultCenter.Lng != -0.1784239 {
		t.Fatalf("default center = %+v", cfg.Map.DefaultCenter)
	}
	if cfg.Map.LocateTimeout != 10*time.Second {
		t.Fatalf("locate timeout = %v want 10s", cfg.Map.LocateTimeout)
	}
	if cfg.Source.Driver != SourcePostgres || cfg.Source.Table != "Bins" {
		t.Fatalf("source defaults = %+v", cfg.Source)
	}
	if cfg.Cache.Enabled || cfg.Invalidation.Enabled {
		t.Fatalf("cache/invalidation should default off")
	}
}

func TestLoad_BareAndPrefixedEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MIN_ZOOM", "12")
	t.Setenv("BINMAP_MAP_INITIAL_ZOOM", "16")
	t.Setenv("DEFAULT_CENTER", "40.4168, -3.7038")
	t.Setenv("SOURCE_DRIVER", "REST")
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("CACHE_TTL", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Map.MinZoom != 12 {
		t.Fatalf("MinZoom=%d want 12", cfg.Map.MinZoom)
	}
	if cfg.Map.InitialZoom != 16 {
		t.Fatalf("InitialZoom=%d want 16", cfg.Map.InitialZoom)
	}
	if cfg.Map.DefaultCenter.Lat != 40.4168 || cfg.Map.DefaultCenter.Lng != -3.7038 {
		t.Fatalf("DefaultCenter=%+v", cfg.Map.DefaultCenter)
	}
	if cfg.Source.Driver != SourceREST || cfg.Source.RestURL != "https://example.supabase.co" {
		t.Fatalf("source=%+v", cfg.Source)
	}
	if cfg.Cache.TTL != 2*time.Minute {
		t.Fatalf("cache ttl=%v want 2m", cfg.Cache.TTL)
	}
}

func TestLoad_ValidationAggregatesErrors(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SOURCE_DRIVER", "rest")
	t.Setenv("INVALIDATION_ENABLED", "true")
	t.Setenv("MAP_SURFACE", "canvas")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"source.rest_url", "invalidation.enabled requires cache.enabled", "map.surface"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q missing %q", msg, want)
		}
	}
}

func TestParseLatLng(t *testing.T) {
	if _, err := ParseLatLng("91,0"); err == nil {
		t.Fatalf("expected out-of-range error")
	}
	if _, err := ParseLatLng("1"); err == nil {
		t.Fatalf("expected format error")
	}
	p, err := ParseLatLng(" 1.5 , 2.5 ")
	if err != nil || p.Lat != 1.5 || p.Lng != 2.5 {
		t.Fatalf("ParseLatLng=%+v,%v", p, err)
	}
}

func TestBrokerList(t *testing.T) {
	got := InvalidationCfg{Brokers: " a:9092, ,b:9092 "}.BrokerList()
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("BrokerList=%v", got)
	}
}

func TestOrigins(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Origins(); len(got) != 2 || got[1] != "https://b.example" {
		t.Fatalf("Origins=%v", got)
	}
}
