// Package geom defines the geometry types the spatial materializer produces
// and the QueryAPI reads: points, linestrings, and the envelopes/collections
// built over them. It has no dependency on the store or element model so it
// can be shared by both write- and read-side packages without a cycle.
package geom

import "math"

// Point is a single WGS84 coordinate, (lon, lat) in that order to match the
// GeoJSON convention used throughout the OSM ecosystem.
type Point struct {
	Lon float64
	Lat float64
}

// LineString is an ordered sequence of points, the materialized shape of a
// way whose node references all resolved.
type LineString []Point

// Envelope is an axis-aligned bounding box. An empty Envelope (Valid==false)
// contributes nothing when unioned with another.
type Envelope struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	Valid                          bool
}

// EnvelopeOf returns the bounding envelope of a single point.
func EnvelopeOf(p Point) Envelope {
	return Envelope{MinLon: p.Lon, MinLat: p.Lat, MaxLon: p.Lon, MaxLat: p.Lat, Valid: true}
}

// EnvelopeOfLine returns the bounding envelope of a line string.
func EnvelopeOfLine(l LineString) Envelope {
	var e Envelope
	for _, p := range l {
		e = e.Union(EnvelopeOf(p))
	}
	return e
}

// Union returns the smallest envelope containing both e and o.
func (e Envelope) Union(o Envelope) Envelope {
	if !o.Valid {
		return e
	}
	if !e.Valid {
		return o
	}
	return Envelope{
		MinLon: math.Min(e.MinLon, o.MinLon),
		MinLat: math.Min(e.MinLat, o.MinLat),
		MaxLon: math.Max(e.MaxLon, o.MaxLon),
		MaxLat: math.Max(e.MaxLat, o.MaxLat),
		Valid:  true,
	}
}

// Intersects reports whether e and o share any area (touching counts).
func (e Envelope) Intersects(o Envelope) bool {
	if !e.Valid || !o.Valid {
		return false
	}
	return e.MinLon <= o.MaxLon && e.MaxLon >= o.MinLon &&
		e.MinLat <= o.MaxLat && e.MaxLat >= o.MinLat
}

// Kind discriminates the variant stored in a Geometry.
type Kind int

const (
	KindPoint Kind = iota
	KindLineString
	KindCollection
)

// Geometry is the tagged union the materializer writes into
// MaterializedGeometry: exactly one of Point/Line/Members is meaningful,
// selected by Kind. A relation's geometry is either a GeometryCollection
// (Kind==KindCollection, Members populated) or a pure envelope summary
// (Envelope populated, Members nil) depending on the materializer's BuildConfig —
// see materializer.RelationGeometryMode.
type Geometry struct {
	Kind     Kind
	Point    Point
	Line     LineString
	Members  []Geometry // only populated for KindCollection
	Envelope Envelope
	// Partial marks a lenient-policy result built with one or more missing
	// member/ref geometries elided.
	Partial bool
}

// NewPoint builds a point geometry.
func NewPoint(p Point) Geometry {
	return Geometry{Kind: KindPoint, Point: p, Envelope: EnvelopeOf(p)}
}

// NewLineString builds a line geometry, or a degenerate point geometry for a
// one-node way.
func NewLineString(l LineString, partial bool) Geometry {
	if len(l) == 1 {
		g := NewPoint(l[0])
		g.Partial = partial
		return g
	}
	return Geometry{Kind: KindLineString, Line: l, Envelope: EnvelopeOfLine(l), Partial: partial}
}

// NewCollection builds a relation geometry as the union of its members'
// geometries (used when RelationGeometryMode is "collection").
func NewCollection(members []Geometry, partial bool) Geometry {
	var env Envelope
	for _, m := range members {
		env = env.Union(m.Envelope)
	}
	return Geometry{Kind: KindCollection, Members: members, Envelope: env, Partial: partial}
}

// NewEnvelopeOnly builds a relation geometry that carries only the union
// envelope of its members, not their full shapes (used when
// RelationGeometryMode is "envelope").
func NewEnvelopeOnly(members []Geometry, partial bool) Geometry {
	var env Envelope
	for _, m := range members {
		env = env.Union(m.Envelope)
	}
	return Geometry{Kind: KindCollection, Envelope: env, Partial: partial}
}
