// Package geo parses free-form profile locations and measures great-circle
// distances between them.
package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// EarthRadiusMiles is the mean Earth radius used by Haversine.
const EarthRadiusMiles = 3958.8

// ErrInvalidLocation is returned for empty, malformed or out-of-range locations.
var ErrInvalidLocation = errors.New("invalid location")

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Haversine returns the great-circle distance in miles.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMiles * c
}

// DistanceMiles is Haversine over two points.
func DistanceMiles(a, b Point) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// ParseLocation accepts either a JSON object with lat/latitude and
// lng/longitude/lon keys (numbers or numeric strings), or "lat,lon".
func ParseLocation(raw string) (Point, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Point{}, ErrInvalidLocation
	}

	if strings.HasPrefix(raw, "{") {
		return parseObject(raw)
	}

	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return Point{}, ErrInvalidLocation
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, ErrInvalidLocation
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, ErrInvalidLocation
	}
	return checked(Point{Lat: lat, Lon: lon})
}

func parseObject(raw string) (Point, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return Point{}, ErrInvalidLocation
	}

	lat, ok := firstNumber(obj, "lat", "latitude")
	if !ok {
		return Point{}, ErrInvalidLocation
	}
	lon, ok := firstNumber(obj, "lng", "longitude", "lon")
	if !ok {
		return Point{}, ErrInvalidLocation
	}
	return checked(Point{Lat: lat, Lon: lon})
}

func firstNumber(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func checked(p Point) (Point, error) {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) ||
		p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return Point{}, ErrInvalidLocation
	}
	return p, nil
}
