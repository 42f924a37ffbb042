package trackedentity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer"
	"github.com/hmis/tracker/internal/importer/resolver"
	"github.com/hmis/tracker/internal/importer/validation"
)

const objectType = "TrackedEntityInstance.trackedEntityType"

func ignore(s *importer.ImportSummary) *importer.ImportSummary {
	s.Fail("")
	s.IncrementIgnored()
	return s
}

func (im *Importer) checkType(ctx context.Context, cache *resolver.Cache, tei *importer.TrackedEntityInstance, s *importer.ImportSummary) (*metadata.TrackedEntityType, error) {
	if tei.TrackedEntityType == "" {
		s.AddConflict(objectType, "Missing required property trackedEntityType")
		return nil, nil
	}
	typ, err := cache.TrackedEntityType(ctx, tei.TrackedEntityType)
	if err != nil {
		return nil, err
	}
	if typ == nil {
		s.AddConflict(objectType, "Invalid trackedEntityType "+tei.TrackedEntityType)
	}
	return typ, nil
}

// checkAttributes validates every attribute that carries a value. old holds
// the stored values of the entity being updated and owner its uid; both
// are empty on create. Mandatory attributes are an enrollment concern and
// are not checked here.
func (im *Importer) checkAttributes(
	ctx context.Context,
	cache *resolver.Cache,
	attrs []importer.Attribute,
	old map[string]string,
	owner string,
	orgUnit *metadata.OrganisationUnit,
	opts *importer.ImportOptions,
	s *importer.ImportSummary,
) error {
	for _, a := range attrs {
		if a.Value == "" {
			continue
		}
		attr, err := cache.Attribute(ctx, a.Attribute)
		if err != nil {
			return err
		}
		if attr == nil {
			s.AddConflict(validation.ObjectAttribute, "Invalid attribute "+a.Attribute)
			continue
		}

		c, err := im.validator.ValidateTextPattern(ctx, attr, a.Value, old[attr.UID], opts.SkipPatternValidation)
		if err != nil {
			return err
		}
		if c != nil {
			s.AddConflict(c.Object, c.Value)
		}
		if attr.Unique {
			c, err := im.validator.ValidateUniqueness(ctx, attr, a.Value, owner, orgUnit)
			if err != nil {
				return err
			}
			if c != nil {
				s.AddConflict(c.Object, c.Value)
			}
		}
		if c := im.validator.ValidateValueType(attr, a.Value); c != nil {
			s.AddConflict(c.Object, c.Value)
		}
	}
	return nil
}

// checkScope rejects attributes that belong neither to program nor to the
// entity's type.
func checkScope(ctx context.Context, cache *resolver.Cache, attrs []importer.Attribute, program *metadata.Program, typ *metadata.TrackedEntityType, s *importer.ImportSummary) error {
	for _, a := range attrs {
		attr, err := cache.Attribute(ctx, a.Attribute)
		if err != nil {
			return err
		}
		if attr == nil {
			continue
		}
		if program.Attribute(attr.UID) != nil || (typ != nil && typ.HasAttribute(attr.UID)) {
			continue
		}
		s.AddConflict(validation.ObjectAttribute, "Attribute "+attr.UID+" is not a program or tracked entity type attribute")
	}
	return nil
}

// resolveGeometry returns the geometry to store for tei. It reports false,
// with a conflict on s, when the payload geometry is unusable.
func resolveGeometry(tei *importer.TrackedEntityInstance, typ *metadata.TrackedEntityType, s *importer.ImportSummary) (*tracker.Geometry, bool) {
	if tei.Geometry != nil {
		featureType := metadata.FeatureTypeNone
		if typ != nil && typ.FeatureType != "" {
			featureType = typ.FeatureType
		}
		if featureType == metadata.FeatureTypeNone || featureType != tei.Geometry.FeatureType() || tei.Geometry.Validate() != nil {
			s.AddConflict(tei.TrackedEntityInstance, "Geometry does not conform to feature type '"+string(featureType)+"'")
			return nil, false
		}
		return tei.Geometry, true
	}
	if !strings.EqualFold(tei.FeatureType, string(metadata.FeatureTypeNone)) && tei.Coordinates != "" {
		g, err := geometryFromCoordinates(tei.FeatureType, tei.Coordinates)
		if err != nil {
			s.AddConflict(tei.TrackedEntityInstance, "Could not parse coordinates")
			return nil, false
		}
		return g, true
	}
	return nil, true
}

// geometryFromCoordinates reads the legacy featureType/coordinates pair.
func geometryFromCoordinates(featureType, coordinates string) (*tracker.Geometry, error) {
	var geometryType string
	switch metadata.FeatureType(strings.ToUpper(featureType)) {
	case "", metadata.FeatureTypePoint:
		return tracker.ParseCoordinate(coordinates)
	case metadata.FeatureTypePolygon:
		geometryType = "Polygon"
	case metadata.FeatureTypeMultiPolygon:
		geometryType = "MultiPolygon"
	default:
		return nil, fmt.Errorf("unsupported feature type %q", featureType)
	}
	g := &tracker.Geometry{Type: geometryType, Coordinates: json.RawMessage(coordinates)}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
