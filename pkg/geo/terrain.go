package geo

import "github.com/shiva/tailwind/internal/model"

// region is a lat/lon bounding box. Boxes never cross the antimeridian;
// regions that do are split in two.
type region struct {
	name                           string
	minLat, maxLat, minLon, maxLon float64
}

func (r region) contains(p model.GeoPoint) bool {
	return p.Lat >= r.minLat && p.Lat <= r.maxLat && p.Lon >= r.minLon && p.Lon <= r.maxLon
}

// Approximate regions. Lookup order is mountains, deserts, oceans; anything
// unmatched is land.
var (
	mountainRegions = []region{
		{"himalaya-tibet", 27, 37, 70, 100},
		{"rockies", 35, 60, -125, -105},
		{"andes", -55, 10, -80, -65},
		{"alps", 44, 48, 5, 16},
		{"caucasus", 40, 44, 40, 50},
	}

	desertRegions = []region{
		{"sahara", 15, 32, -17, 35},
		{"arabian", 15, 30, 36, 56},
		{"gobi", 38, 46, 90, 115},
		{"australian-outback", -32, -20, 120, 145},
		{"kalahari", -28, -18, 18, 26},
		{"mojave-sonoran", 28, 35, -118, -108},
	}

	oceanRegions = []region{
		{"north-atlantic", 10, 60, -60, -12},
		{"north-atlantic-west", 25, 45, -72, -60},
		{"south-atlantic", -60, 0, -35, 10},
		{"pacific-east", -60, 55, -180, -125},
		{"pacific-southeast", -60, 10, -125, -82},
		{"pacific-west", -60, 50, 150, 180},
		{"indian", -60, 5, 45, 100},
		{"arctic", 75, 90, -180, 180},
		{"southern", -90, -60, -180, 180},
	}
)

// terrainModifiers are travel-ease factors; edge cost divides by them.
var terrainModifiers = map[model.TerrainKind]float64{
	model.TerrainOcean:    1.2,
	model.TerrainLand:     1.0,
	model.TerrainDesert:   0.8,
	model.TerrainMountain: 0.7,
}

var cruiseAltitudes = map[model.TerrainKind]float64{
	model.TerrainOcean:    10000,
	model.TerrainLand:     10500,
	model.TerrainDesert:   11000,
	model.TerrainMountain: 12500,
}

// ClassifyTerrain maps a coordinate onto a TerrainKind using the static regions.
func ClassifyTerrain(p model.GeoPoint) model.TerrainKind {
	for _, r := range mountainRegions {
		if r.contains(p) {
			return model.TerrainMountain
		}
	}
	for _, r := range desertRegions {
		if r.contains(p) {
			return model.TerrainDesert
		}
	}
	for _, r := range oceanRegions {
		if r.contains(p) {
			return model.TerrainOcean
		}
	}
	return model.TerrainLand
}

// TerrainModifier returns the travel modifier for a terrain kind.
// Unknown kinds are treated as land.
func TerrainModifier(kind model.TerrainKind) float64 {
	if m, ok := terrainModifiers[kind]; ok {
		return m
	}
	return terrainModifiers[model.TerrainLand]
}

// CruiseAltitudeM returns the simulated cruise altitude over a terrain kind.
func CruiseAltitudeM(kind model.TerrainKind) float64 {
	if a, ok := cruiseAltitudes[kind]; ok {
		return a
	}
	return cruiseAltitudes[model.TerrainLand]
}
