package geo

import "math"

// EarthRadiusMeters is the mean radius used for all great-circle math.
const EarthRadiusMeters = 6371000.0

type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// DistanceMeters returns the haversine distance between a and b.
func DistanceMeters(a, b Coordinate) float64 {
	if a == b {
		return 0
	}
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Lerp interpolates latitude and longitude independently; frac is clamped to [0,1].
func Lerp(from, to Coordinate, frac float64) Coordinate {
	if frac <= 0 {
		return from
	}
	if frac >= 1 {
		return to
	}
	return Coordinate{
		Lat: from.Lat + (to.Lat-from.Lat)*frac,
		Lng: from.Lng + (to.Lng-from.Lng)*frac,
	}
}

type Bounds struct {
	MinLat, MinLng float64
	MaxLat, MaxLng float64
}

// BoundsAround returns a box that contains every point within radius meters of c.
// Uses an equirectangular approximation, which overshoots slightly and is only
// meant as a prefilter.
func BoundsAround(c Coordinate, radius float64) Bounds {
	if radius < 0 {
		radius = 0
	}
	dLat := radius / EarthRadiusMeters * 180 / math.Pi
	cosLat := math.Cos(c.Lat * math.Pi / 180)
	dLng := 180.0
	// a circle reaching a pole covers every longitude
	if cosLat > 1e-9 && c.Lat+dLat < 90 && c.Lat-dLat > -90 {
		dLng = math.Min(180, dLat/cosLat)
	}
	return Bounds{
		MinLat: math.Max(-90, c.Lat-dLat),
		MaxLat: math.Min(90, c.Lat+dLat),
		MinLng: c.Lng - dLng,
		MaxLng: c.Lng + dLng,
	}
}

// LngRanges splits the box's longitude span at the antimeridian. Each range is
// within [-180, 180]; a span of 360 degrees or more is the full range.
func (b Bounds) LngRanges() [][2]float64 {
	switch {
	case b.MaxLng-b.MinLng >= 360:
		return [][2]float64{{-180, 180}}
	case b.MinLng < -180:
		return [][2]float64{{b.MinLng + 360, 180}, {-180, b.MaxLng}}
	case b.MaxLng > 180:
		return [][2]float64{{b.MinLng, 180}, {-180, b.MaxLng - 360}}
	}
	return [][2]float64{{b.MinLng, b.MaxLng}}
}
