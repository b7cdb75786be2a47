package main

import (
	"image"
	"testing"

	"github.com/rolzie-7/Bin-map/internal/core/model"
)

func TestParseStop(t *testing.T) {
	s, err := parseStop("51.4979, -0.1784@14.5")
	if err != nil {
		t.Fatalf("parseStop: %v", err)
	}
	if s.at.Lat != 51.4979 || s.at.Lng != -0.1784 || s.zoom != 14.5 {
		t.Fatalf("got %+v", s)
	}

	for _, bad := range []string{"51.5,-0.1", "51.5@14", "91,0@14", "51.5,-0.1@x", "51.5,-0.1@30"} {
		if _, err := parseStop(bad); err == nil {
			t.Errorf("parseStop(%q) should fail", bad)
		}
	}
}

func TestParseScreen(t *testing.T) {
	p, err := parseScreen("720X1280")
	if err != nil || p != image.Pt(720, 1280) {
		t.Fatalf("parseScreen=%v,%v", p, err)
	}
	for _, bad := range []string{"720", "0x100", "ax100"} {
		if _, err := parseScreen(bad); err == nil {
			t.Errorf("parseScreen(%q) should fail", bad)
		}
	}
}

func TestIconMix(t *testing.T) {
	got := iconMix([]model.Marker{
		{Icon: model.IconRecycle},
		{Icon: model.IconGeneral},
		{Icon: model.IconRecycle},
	})
	if got != "[general=1 recycle=2]" {
		t.Fatalf("iconMix=%q", got)
	}
	if iconMix(nil) != "[]" {
		t.Fatalf("empty mix=%q", iconMix(nil))
	}
}
