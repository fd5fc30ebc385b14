// Package geometry parses WKT values and tests containment between them
package geometry

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
)

// Parse reads a WKT geometry
func Parse(value string) (orb.Geometry, error) {
	geometry, err := wkt.Unmarshal(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}

	return geometry, nil
}

// Normalize returns the canonical WKT of a value
func Normalize(value string) (string, error) {
	geometry, err := Parse(value)
	if err != nil {
		return "", err
	}

	return wkt.MarshalString(geometry), nil
}

// IsValid returns true for polygons or multi polygons that are topologically valid:
// rings are closed, have an area, and do not cross themselves.
func IsValid(geometry orb.Geometry) bool {
	switch g := geometry.(type) {
	case orb.Polygon:
		return validPolygon(g)
	case orb.MultiPolygon:
		if len(g) == 0 {
			return false
		}

		for _, polygon := range g {
			if !validPolygon(polygon) {
				return false
			}
		}

		return true
	default:
		return false
	}
}

// LiesIn returns true if a point of the source surface is inside a valid destination
func LiesIn(source, destination orb.Geometry) bool {
	if source == nil || destination == nil || !IsValid(destination) {
		return false
	}

	point, found := pointOnSurface(source)
	if !found {
		return false
	}

	switch d := destination.(type) {
	case orb.Polygon:
		return planar.PolygonContains(d, point)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(d, point)
	}

	return false
}

// LiesInWKT parses both values and calls LiesIn. Invalid values never match
func LiesInWKT(source, destination string) bool {
	src, err := Parse(source)
	if err != nil {
		return false
	}

	dst, err := Parse(destination)
	if err != nil {
		return false
	}

	return LiesIn(src, dst)
}

// pointOnSurface picks a point of the geometry, inside it when it is a surface
func pointOnSurface(geometry orb.Geometry) (orb.Point, bool) {
	switch g := geometry.(type) {
	case orb.Point:
		return g, true
	case orb.Polygon:
		if len(g) == 0 || len(g[0]) == 0 {
			return orb.Point{}, false
		}

		if centroid, _ := planar.CentroidArea(g); planar.PolygonContains(g, centroid) {
			return centroid, true
		}

		return g[0][0], true
	case orb.MultiPolygon:
		if len(g) == 0 {
			return orb.Point{}, false
		}

		return pointOnSurface(g[0])
	default:
		if g == nil || g.Bound().IsEmpty() && g.Bound().IsZero() {
			return orb.Point{}, false
		}

		centroid, _ := planar.CentroidArea(g)
		return centroid, true
	}
}

func validPolygon(polygon orb.Polygon) bool {
	if len(polygon) == 0 {
		return false
	}

	for _, ring := range polygon {
		if len(ring) < 4 || !ring.Closed() {
			return false
		} else if planar.Area(ring) == 0 {
			return false
		} else if selfIntersects(ring) {
			return false
		}
	}

	return true
}

// selfIntersects tests all pairs of non adjacent segments of a closed ring
func selfIntersects(ring orb.Ring) bool {
	segments := len(ring) - 1
	for i := 0; i < segments; i++ {
		for j := i + 2; j < segments; j++ {
			// first and last segments share the closing point
			if i == 0 && j == segments-1 {
				continue
			}

			if segmentsIntersect(ring[i], ring[i+1], ring[j], ring[j+1]) {
				return true
			}
		}
	}

	return false
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	return (d1 == 0 && onSegment(q1, q2, p1)) ||
		(d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) ||
		(d4 == 0 && onSegment(p1, p2, q2))
}

func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return min(a[0], b[0]) <= p[0] && p[0] <= max(a[0], b[0]) &&
		min(a[1], b[1]) <= p[1] && p[1] <= max(a[1], b[1])
}
