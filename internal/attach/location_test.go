package attach

import (
	"strings"
	"testing"
)

func TestNormalizeLocationRounding(t *testing.T) {
	loc := NormalizeLocation(29.37591234, 47.97741234, "", "")
	if loc.Lat != 29.375912 {
		t.Errorf("Lat = %v, want 29.375912", loc.Lat)
	}
	if loc.Lng != 47.977412 {
		t.Errorf("Lng = %v, want 47.977412", loc.Lng)
	}
}

func TestNormalizeLocationDeterministicLinks(t *testing.T) {
	a := NormalizeLocation(29.3759, 47.9774, "Kuwait City", "")
	b := NormalizeLocation(29.3759, 47.9774, "Kuwait City", "")
	if a.MapsURL != b.MapsURL || a.StaticMapURL != b.StaticMapURL {
		t.Error("derived URLs are not deterministic")
	}
	if !strings.Contains(a.MapsURL, "29.3759,47.9774") {
		t.Errorf("MapsURL = %q, want it to contain 29.3759,47.9774", a.MapsURL)
	}
	if !strings.Contains(a.StaticMapURL, "29.3759,47.9774") {
		t.Errorf("StaticMapURL = %q, want it to contain 29.3759,47.9774", a.StaticMapURL)
	}
}

func TestNormalizeLocationKeepsLabelAndAddress(t *testing.T) {
	loc := NormalizeLocation(1, 2, "Home", "Block 4, Salmiya")
	if loc.Label != "Home" || loc.Address != "Block 4, Salmiya" {
		t.Errorf("label/address not preserved: %+v", loc)
	}
}

func TestNormalizeLocationNegativeCoords(t *testing.T) {
	loc := NormalizeLocation(-33.8688197, 151.2092955, "", "")
	if loc.Lat != -33.86882 {
		t.Errorf("Lat = %v, want -33.86882", loc.Lat)
	}
	if !strings.Contains(loc.MapsURL, "-33.86882,151.209") {
		t.Errorf("MapsURL = %q", loc.MapsURL)
	}
}
