package wfs

import (
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/signalsfoundry/roadview/model"
)

// IDProperty is the feature property holding the photo name.
const IDProperty = "ph_nm"

// heightProperties are checked, in order, for a point height when the
// geometry itself is two-dimensional.
var heightProperties = []string{"height", "alt", "z"}

// DecodeFeatureCollection converts a GeoJSON FeatureCollection into road
// points. Features without an id are skipped; features whose geometry is not
// a point keep their id but have no position.
func DecodeFeatureCollection(data []byte) ([]model.RoadPoint, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}

	points := make([]model.RoadPoint, 0, len(fc.Features))
	for _, f := range fc.Features {
		id := featureID(f)
		if id == "" {
			continue
		}
		props := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			if k == IDProperty {
				continue
			}
			props[k] = v
		}

		rp := model.RoadPoint{ID: id, Properties: props}
		if pos, ok := featurePosition(f); ok {
			rp.Position = &pos
		}
		points = append(points, rp)
	}
	return points, nil
}

// LoadFile reads a GeoJSON FeatureCollection from path.
func LoadFile(path string) ([]model.RoadPoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read points file: %w", err)
	}
	return DecodeFeatureCollection(data)
}

func featureID(f *geojson.Feature) string {
	if v, ok := f.Properties[IDProperty]; ok && v != nil {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return ""
}

func featurePosition(f *geojson.Feature) (model.GeoPoint, bool) {
	var pt orb.Point
	switch g := f.Geometry.(type) {
	case orb.Point:
		pt = g
	case orb.MultiPoint:
		if len(g) == 0 {
			return model.GeoPoint{}, false
		}
		pt = g[0]
	default:
		return model.GeoPoint{}, false
	}

	pos := model.GeoPoint{Lon: pt.Lon(), Lat: pt.Lat()}
	for _, key := range heightProperties {
		if h, ok := f.Properties[key].(float64); ok {
			pos.Height = h
			break
		}
	}
	return pos, pos.Valid()
}
