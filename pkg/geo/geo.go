// Package geo provides spherical-Earth geometry for simulated postcard flights.
//
// All calculations use a mean Earth radius of 6371 km. Functions are pure and
// safe for concurrent use. Coincident and antipodal inputs are handled without
// producing NaN: bearings between coincident points are 0, and interpolation
// between antipodal points follows a single meridian (the one heading north
// from the start, or the end's meridian when starting at a pole).
package geo

import (
	"math"

	"golang.org/x/exp/constraints"

	"github.com/shiva/tailwind/internal/model"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// EarthRadiusKm is the mean radius of Earth in kilometers.
	EarthRadiusKm = 6371.0

	// CoincidentKm is the distance below which two points are treated as the same place.
	CoincidentKm = 0.1

	// AnonymizePrecisionDeg is the grid (~1 km) that anonymized points snap to.
	AnonymizePrecisionDeg = 0.01
)

// ─── Validation ─────────────────────────────────────────────

// Valid reports whether p has finite coordinates inside the WGS-84 ranges.
func Valid(p model.GeoPoint) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Anonymize truncates p to AnonymizePrecisionDeg and marks it anonymized.
// Region tags are kept.
func Anonymize(p model.GeoPoint) model.GeoPoint {
	if p.Anonymized {
		return p
	}
	p.Lat = math.Trunc(p.Lat/AnonymizePrecisionDeg) * AnonymizePrecisionDeg
	p.Lon = math.Trunc(p.Lon/AnonymizePrecisionDeg) * AnonymizePrecisionDeg
	p.Anonymized = true
	return p
}

// ─── Distance ───────────────────────────────────────────────

// DistanceKm returns the great-circle distance between two points in kilometers.
//
// Complexity: O(1)
func DistanceKm(a, b model.GeoPoint) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*sinLon*sinLon

	// Rounding can push h a hair above 1 for antipodal points.
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// PathDistanceKm returns the summed leg distance of an ordered path.
func PathDistanceKm(points []model.GeoPoint) float64 {
	total := 0.0
	for i := 0; i < len(points)-1; i++ {
		total += DistanceKm(points[i], points[i+1])
	}
	return total
}

// ─── Direction ──────────────────────────────────────────────

// BearingDeg returns the initial forward azimuth from a to b in [0, 360).
// Coincident points have no defined bearing; 0 is returned.
func BearingDeg(a, b model.GeoPoint) float64 {
	if DistanceKm(a, b) < 1e-9 {
		return 0
	}
	phi1 := degToRad(a.Lat)
	phi2 := degToRad(b.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)

	return NormalizeBearing(radToDeg(math.Atan2(y, x)))
}

// NormalizeBearing maps any angle in degrees into [0, 360).
func NormalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// Destination projects a point distanceKm away from start along bearingDeg.
func Destination(start model.GeoPoint, distanceKm, bearingDeg float64) model.GeoPoint {
	delta := distanceKm / EarthRadiusKm
	theta := degToRad(bearingDeg)
	phi1 := degToRad(start.Lat)
	lambda1 := degToRad(start.Lon)

	sinPhi2 := math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta)
	phi2 := math.Asin(Clamp(sinPhi2, -1, 1))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*sinPhi2,
	)

	return model.GeoPoint{Lat: radToDeg(phi2), Lon: normalizeLon(radToDeg(lambda2))}
}

// Midpoint returns the great-circle midpoint of a and b.
func Midpoint(a, b model.GeoPoint) model.GeoPoint {
	return Interpolate(a, b, 0.5)
}

// Interpolate returns the point at fraction f (0..1) along the great circle
// from a to b. f=0 yields a's coordinates and f=1 yields b's.
func Interpolate(a, b model.GeoPoint, f float64) model.GeoPoint {
	f = Clamp(f, 0, 1)
	d := DistanceKm(a, b)
	if d < 1e-9 || f == 0 {
		return model.GeoPoint{Lat: a.Lat, Lon: a.Lon}
	}
	if f == 1 {
		return model.GeoPoint{Lat: b.Lat, Lon: b.Lon}
	}

	delta := d / EarthRadiusKm
	sinDelta := math.Sin(delta)
	if math.Abs(sinDelta) < 1e-9 {
		return antipodalPoint(a, b, f)
	}

	phi1, lambda1 := degToRad(a.Lat), degToRad(a.Lon)
	phi2, lambda2 := degToRad(b.Lat), degToRad(b.Lon)

	wa := math.Sin((1-f)*delta) / sinDelta
	wb := math.Sin(f*delta) / sinDelta

	x := wa*math.Cos(phi1)*math.Cos(lambda1) + wb*math.Cos(phi2)*math.Cos(lambda2)
	y := wa*math.Cos(phi1)*math.Sin(lambda1) + wb*math.Cos(phi2)*math.Sin(lambda2)
	z := wa*math.Sin(phi1) + wb*math.Sin(phi2)

	return model.GeoPoint{
		Lat: radToDeg(math.Atan2(z, math.Sqrt(x*x+y*y))),
		Lon: normalizeLon(radToDeg(math.Atan2(y, x))),
	}
}

// antipodalPoint walks the half meridian from a to its antipode b. Every great
// circle through a reaches b, so the meridian is chosen explicitly: the one
// through a heading north, or b's meridian when a is a pole. Picking it from
// an atan2 of near-zero terms would flip between opposite meridians.
func antipodalPoint(a, b model.GeoPoint, f float64) model.GeoPoint {
	phi, lambda := degToRad(a.Lat), degToRad(a.Lon)
	ax := math.Cos(phi) * math.Cos(lambda)
	ay := math.Cos(phi) * math.Sin(lambda)
	az := math.Sin(phi)

	// Unit tangent at a along the chosen meridian.
	var tx, ty, tz float64
	if math.Cos(phi) < 1e-9 {
		lb := degToRad(b.Lon)
		tx, ty, tz = math.Cos(lb), math.Sin(lb), 0
	} else {
		tx = -math.Sin(phi) * math.Cos(lambda)
		ty = -math.Sin(phi) * math.Sin(lambda)
		tz = math.Cos(phi)
	}

	t := f * math.Pi
	x := ax*math.Cos(t) + tx*math.Sin(t)
	y := ay*math.Cos(t) + ty*math.Sin(t)
	z := az*math.Cos(t) + tz*math.Sin(t)

	lat := radToDeg(math.Atan2(z, math.Sqrt(x*x+y*y)))
	lon := a.Lon
	if math.Sqrt(x*x+y*y) > 1e-12 {
		lon = normalizeLon(radToDeg(math.Atan2(y, x)))
	}
	return model.GeoPoint{Lat: lat, Lon: lon}
}

// ─── Helpers ────────────────────────────────────────────────

// Clamp bounds v to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+540, 360) - 180
	if lon == -180 {
		return 180
	}
	return lon
}

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}

func radToDeg(rad float64) float64 {
	return rad * (180.0 / math.Pi)
}
