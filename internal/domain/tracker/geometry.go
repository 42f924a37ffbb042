package tracker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hmis/tracker/internal/domain/metadata"
)

// Geometry is a GeoJSON geometry object.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// FeatureType maps the geometry to the feature type it satisfies.
func (g *Geometry) FeatureType() metadata.FeatureType {
	if g == nil {
		return metadata.FeatureTypeNone
	}
	return metadata.FeatureTypeFromGeometry(g.Type)
}

// Validate checks that the coordinates have the nesting depth GeoJSON
// requires for the geometry type.
func (g *Geometry) Validate() error {
	if g == nil {
		return nil
	}
	var err error
	switch g.FeatureType() {
	case metadata.FeatureTypePoint:
		var p []float64
		err = json.Unmarshal(g.Coordinates, &p)
		if err == nil && len(p) < 2 {
			err = fmt.Errorf("point needs two coordinates")
		}
	case metadata.FeatureTypePolygon:
		var p [][][]float64
		err = json.Unmarshal(g.Coordinates, &p)
	case metadata.FeatureTypeMultiPolygon:
		var p [][][][]float64
		err = json.Unmarshal(g.Coordinates, &p)
	default:
		return fmt.Errorf("unsupported geometry type %q", g.Type)
	}
	if err != nil {
		return fmt.Errorf("invalid %s coordinates: %w", g.Type, err)
	}
	return nil
}

// Point builds a point geometry.
func Point(lng, lat float64) *Geometry {
	raw, _ := json.Marshal([]float64{lng, lat})
	return &Geometry{Type: "Point", Coordinates: raw}
}

// ParseCoordinate parses the legacy "[lng,lat]" coordinate string.
func ParseCoordinate(s string) (*Geometry, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("coordinate %q is not a [lng,lat] pair", s)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("coordinate longitude: %w", err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("coordinate latitude: %w", err)
	}
	if lng < -180 || lng > 180 || lat < -90 || lat > 90 {
		return nil, fmt.Errorf("coordinate %q out of range", s)
	}
	return Point(lng, lat), nil
}
