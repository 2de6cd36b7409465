package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	FeatureType           = "Feature"
	FeatureCollectionType = "FeatureCollection"
	PointGeometry         = "Point"
	GeometryCollection    = "GeometryCollection"

	DefaultRadius = 100
)

var (
	ErrGeofenceNotFound = errors.New("geofence not found")
	ErrInvalidGeofence  = errors.New("invalid geofence")
)

// Geofence is the GeoJSON feature stored for a fence code. Members other
// than type, geometry and properties are kept in Extra and written back as
// they were received.
type Geofence struct {
	Type       string                     `json:"type"`
	Geometry   Geometry                   `json:"geometry"`
	Properties GeofenceProperties         `json:"properties"`
	Extra      map[string]json.RawMessage `json:"-"`

	present map[string]bool
}

func (g *Geofence) UnmarshalJSON(data []byte) error {
	type plain Geofence
	var typed plain
	extra, present, err := decodeMembers(data, &typed, "type", "geometry", "properties")
	if err != nil {
		return err
	}
	*g = Geofence(typed)
	g.Extra, g.present = extra, present
	return nil
}

func (g Geofence) MarshalJSON() ([]byte, error) {
	type plain Geofence
	typed, err := json.Marshal(plain(g))
	if err != nil {
		return nil, err
	}
	return encodeMembers(typed, g.Extra)
}

// Has reports whether the feature carries the named top-level member, either
// because it was decoded with it or because the typed field is set.
func (g Geofence) Has(member string) bool {
	if g.present[member] {
		return true
	}
	switch member {
	case "type":
		return g.Type != ""
	case "geometry":
		return g.Geometry.Type != "" || len(g.Geometry.Coordinates) > 0
	case "properties":
		return !g.Properties.isZero()
	}
	_, ok := g.Extra[member]
	return ok
}

// Merge returns a copy of g where every top-level member carried by update
// replaces g's own. Members update lacks are left untouched.
func (g Geofence) Merge(update Geofence) Geofence {
	merged := g
	merged.present = nil
	if update.Has("type") {
		merged.Type = update.Type
	}
	if update.Has("geometry") {
		merged.Geometry = update.Geometry
	}
	if update.Has("properties") {
		merged.Properties = update.Properties
	}
	merged.Extra = cloneMembers(g.Extra)
	for name, raw := range update.Extra {
		if merged.Extra == nil {
			merged.Extra = make(map[string]json.RawMessage)
		}
		merged.Extra[name] = raw
	}
	return merged
}

// Geometry keeps coordinates raw so that polygons round-trip untouched.
// Other members, such as the geometries of a collection, go to Extra.
type Geometry struct {
	Type        string                     `json:"type"`
	Coordinates json.RawMessage            `json:"coordinates,omitempty"`
	Extra       map[string]json.RawMessage `json:"-"`
}

func (g *Geometry) UnmarshalJSON(data []byte) error {
	type plain Geometry
	var typed plain
	extra, _, err := decodeMembers(data, &typed, "type", "coordinates")
	if err != nil {
		return err
	}
	*g = Geometry(typed)
	g.Extra = extra
	return nil
}

func (g Geometry) MarshalJSON() ([]byte, error) {
	type plain Geometry
	typed, err := json.Marshal(plain(g))
	if err != nil {
		return nil, err
	}
	return encodeMembers(typed, g.Extra)
}

// GeofenceProperties holds the properties the relay reads. Any other
// property is kept in Extra. Code is only set on management responses.
type GeofenceProperties struct {
	ID          string                     `json:"id,omitempty"`
	Code        string                     `json:"@code,omitempty"`
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Radius      float64                    `json:"radius"`
	Extra       map[string]json.RawMessage `json:"-"`

	present map[string]bool
}

func (p *GeofenceProperties) UnmarshalJSON(data []byte) error {
	type plain GeofenceProperties
	var typed plain
	extra, present, err := decodeMembers(data, &typed, "id", "@code", "name", "description", "radius")
	if err != nil {
		return err
	}
	*p = GeofenceProperties(typed)
	p.Extra, p.present = extra, present
	return nil
}

func (p GeofenceProperties) MarshalJSON() ([]byte, error) {
	type plain GeofenceProperties
	typed, err := json.Marshal(plain(p))
	if err != nil {
		return nil, err
	}
	return encodeMembers(typed, p.Extra)
}

// Has reports whether the named property was supplied, even with a zero
// value such as an empty name or a radius of 0.
func (p GeofenceProperties) Has(name string) bool {
	if p.present[name] {
		return true
	}
	switch name {
	case "id":
		return p.ID != ""
	case "@code":
		return p.Code != ""
	case "name":
		return p.Name != ""
	case "description":
		return p.Description != ""
	case "radius":
		return p.Radius != 0
	}
	_, ok := p.Extra[name]
	return ok
}

func (p GeofenceProperties) isZero() bool {
	return len(p.present) == 0 && p.ID == "" && p.Code == "" && p.Name == "" &&
		p.Description == "" && p.Radius == 0 && len(p.Extra) == 0
}

// GeofenceCollection is the GeoJSON listing returned by the management API.
type GeofenceCollection struct {
	Type       string                       `json:"type"`
	Features   []Geofence                   `json:"features"`
	Properties GeofenceCollectionProperties `json:"properties"`
}

type GeofenceCollectionProperties struct {
	TotalFeatures int `json:"totalFeatures"`
}

// NewGeofenceCollection wraps features into a FeatureCollection.
func NewGeofenceCollection(features []Geofence) GeofenceCollection {
	if features == nil {
		features = []Geofence{}
	}
	return GeofenceCollection{
		Type:       FeatureCollectionType,
		Features:   features,
		Properties: GeofenceCollectionProperties{TotalFeatures: len(features)},
	}
}

// Check returns every problem found in the feature. Only point geometries
// have their coordinates range-checked.
func (g Geofence) Check() []string {
	var problems []string
	if g.Type != FeatureType {
		problems = append(problems, fmt.Sprintf("type must be %q", FeatureType))
	}
	if g.Geometry.Type == "" {
		problems = append(problems, "geometry.type is required")
	}
	if g.Geometry.Type == GeometryCollection {
		if _, ok := g.Geometry.Extra["geometries"]; !ok {
			problems = append(problems, "geometry.geometries is required")
		}
		return problems
	}
	if len(g.Geometry.Coordinates) == 0 {
		problems = append(problems, "geometry.coordinates is required")
		return problems
	}
	if g.Geometry.Type != PointGeometry {
		return problems
	}

	var point []float64
	if err := json.Unmarshal(g.Geometry.Coordinates, &point); err != nil || len(point) < 2 {
		return append(problems, "point coordinates must be [longitude, latitude]")
	}
	if point[1] < -90 || point[1] > 90 {
		problems = append(problems, "latitude must be within [-90, 90]")
	}
	if point[0] < -180 || point[0] > 180 {
		problems = append(problems, "longitude must be within [-180, 180]")
	}
	return problems
}

// Check returns the problems of every feature, prefixed with its index.
func (c GeofenceCollection) Check() []string {
	var problems []string
	if c.Type != FeatureCollectionType {
		problems = append(problems, fmt.Sprintf("type must be %q", FeatureCollectionType))
	}
	for i, f := range c.Features {
		for _, p := range f.Check() {
			problems = append(problems, fmt.Sprintf("features[%d]: %s", i, p))
		}
	}
	return problems
}

// WithCode returns a copy carrying code as its properties id. Any @code
// echoed back from a management response is dropped.
func (g Geofence) WithCode(code string) Geofence {
	g.Properties.ID = code
	g.Properties.Code = ""
	return g
}
