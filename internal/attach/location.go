package attach

import (
	"fmt"
	"math"
	"strconv"
)

// roundCoord rounds a coordinate to 6 decimal places (~0.1m resolution).
func roundCoord(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// formatCoord renders a rounded coordinate without trailing zeros.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// NormalizeLocation produces the canonical location record for a raw pick.
// Coordinates are rounded to 6 decimals and the derived URLs are pure
// functions of the rounded values, so the result is deterministic.
func NormalizeLocation(lat, lng float64, label, address string) *Location {
	rlat := roundCoord(lat)
	rlng := roundCoord(lng)
	return &Location{
		Lat:          rlat,
		Lng:          rlng,
		Label:        label,
		Address:      address,
		MapsURL:      fmt.Sprintf("https://www.google.com/maps?q=%s,%s", formatCoord(rlat), formatCoord(rlng)),
		StaticMapURL: fmt.Sprintf("https://staticmap.openstreetmap.de/staticmap.php?center=%s,%s&zoom=15&size=600x300&markers=%s,%s,red-pushpin", formatCoord(rlat), formatCoord(rlng), formatCoord(rlat), formatCoord(rlng)),
	}
}
