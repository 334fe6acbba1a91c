package schema

import "math"

const coordScale = 1e7

// ToDegrees converts a fixed-point coordinate pair to decimal degrees.
func ToDegrees(latI, lonI int32) (lat, lon float64) {
	return float64(latI) / coordScale, float64(lonI) / coordScale
}

// FromDegrees converts decimal degrees to the fixed-point wire representation.
func FromDegrees(lat, lon float64) (latI, lonI int32) {
	return int32(math.Round(lat * coordScale)), int32(math.Round(lon * coordScale))
}
