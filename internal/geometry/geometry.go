// Package geometry holds the planar primitives used to place vehicles on the
// road network.
//
// Coordinates are simulation pixels. Signed distances are positive on the
// right-hand side of a directed segment and negative on the left, so lane
// parity falls directly out of the sign.
package geometry

import (
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const (
	// DefaultBoxTolerance feathers quad edges so that a point sitting on the
	// seam between two adjacent bars is still counted as inside.
	DefaultBoxTolerance = -4.0

	// DefaultChainThreshold is the maximum gap (pixels) between two slow
	// vehicles that still belong to the same queue.
	DefaultChainThreshold = 10.0
)

// OrientedAngle returns the signed angle at o swept from p1 to p2, in
// (-π, π]. Counter-clockwise is positive.
func OrientedAngle(p1, o, p2 orb.Point) float64 {
	a1 := math.Atan2(p1[1]-o[1], p1[0]-o[0])
	a2 := math.Atan2(p2[1]-o[1], p2[0]-o[0])
	return normalizeAngle(a2 - a1)
}

func normalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// SignedDistance returns the perpendicular distance from o to the segment
// p1→p2. When the triangle o-p1-p2 is obtuse at either endpoint the
// projection falls outside the segment and the distance to the nearer
// endpoint is returned instead, keeping the side sign.
func SignedDistance(p1, p2, o orb.Point) float64 {
	ang := OrientedAngle(o, p1, p2)
	ang2 := OrientedAngle(o, p2, p1)

	if math.Abs(ang) > math.Pi/2 || math.Abs(ang2) > math.Pi/2 {
		d := math.Min(planar.Distance(p1, o), planar.Distance(p2, o))
		if ang > 0 {
			return d
		}
		return -d
	}
	return planar.Distance(o, p1) * math.Sin(ang)
}

// PolylineDistance returns the signed distance from o to the nearest segment
// of line. Zero-length segments are skipped. A line with no real segment
// degenerates to plain point distance; an empty line is infinitely far away.
func PolylineDistance(line orb.LineString, o orb.Point) float64 {
	switch len(line) {
	case 0:
		return math.Inf(1)
	case 1:
		return planar.Distance(line[0], o)
	}

	best := math.Inf(1)
	for i := 0; i < len(line)-1; i++ {
		if line[i].Equal(line[i+1]) {
			continue
		}
		d := SignedDistance(line[i], line[i+1], o)
		if math.Abs(d) < math.Abs(best) {
			best = d
		}
	}
	if math.IsInf(best, 1) {
		return planar.Distance(line[0], o)
	}
	return best
}

// PolylineLength is the summed length of all segments.
func PolylineLength(line orb.LineString) float64 {
	return planar.Length(line)
}

// PushForward moves a by dis along the heading ang (radians).
func PushForward(a orb.Point, dis, ang float64) orb.Point {
	return orb.Point{a[0] + dis*math.Cos(ang), a[1] + dis*math.Sin(ang)}
}

// InBox reports whether o lies inside the convex ring. The ring must be
// wound so its interior is on the right of every edge (clockwise with the y
// axis pointing up). tolerance is the most negative edge distance still
// accepted; pass 0 for a strict test.
func InBox(ring orb.Ring, o orb.Point, tolerance float64) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	for i := 1; i < n; i++ {
		if SignedDistance(ring[i-1], ring[i], o) < tolerance {
			return false
		}
	}
	return SignedDistance(ring[n-1], ring[0], o) >= tolerance
}

// InBar reports whether o lies inside the quad built around segment a→b,
// widthLeft to the left and widthRight to the right. angA and angB tilt the
// quad ends so consecutive bars of a polyline meet along vertex bisectors.
func InBar(a, b, o orb.Point, widthLeft, widthRight, angA, angB, tolerance float64) bool {
	heading := OrientedAngle(orb.Point{a[0] + 1, a[1]}, a, b)

	aR := PushForward(a, widthRight/math.Cos(angA), heading-math.Pi/2-angA)
	aL := PushForward(a, -widthLeft/math.Cos(angA), heading-math.Pi/2-angA)
	bR := PushForward(b, widthRight/math.Cos(angB), heading-math.Pi/2-angB)
	bL := PushForward(b, -widthLeft/math.Cos(angB), heading-math.Pi/2-angB)

	return InBox(orb.Ring{aL, bL, bR, aR}, o, tolerance)
}

// InCorridor reports whether o lies within the band that extends widthLeft
// and widthRight either side of line. Each vertex is offset along its local
// bisector and every segment quad is tested in turn.
func InCorridor(line orb.LineString, o orb.Point, widthLeft, widthRight float64) bool {
	return InCorridorTolerance(line, o, widthLeft, widthRight, DefaultBoxTolerance)
}

// InCorridorTolerance is InCorridor with an explicit edge tolerance.
func InCorridorTolerance(line orb.LineString, o orb.Point, widthLeft, widthRight, tolerance float64) bool {
	if len(line) < 2 {
		return false
	}

	var tiltIn float64
	i := 1
	for ; i < len(line)-1; i++ {
		tiltOut := (math.Pi - OrientedAngle(line[i-1], line[i], line[i+1])) / 2
		if InBar(line[i-1], line[i], o, widthLeft, widthRight, tiltIn, tiltOut, tolerance) {
			return true
		}
		tiltIn = -tiltOut
	}
	return InBar(line[i-1], line[i], o, widthLeft, widthRight, tiltIn, 0, tolerance)
}

// LongestChain estimates the physical length of a queue from a scatter of
// positions. Starting from the first point, the chain grows at either end by
// absorbing any remaining point closer than threshold, summing the absorbed
// gaps. Points that never join are chained again recursively and the longest
// result wins. Fewer than two points yield 0.
func LongestChain(points []orb.Point, threshold float64) float64 {
	if len(points) < 2 {
		return 0
	}

	rest := slices.Clone(points[1:])
	head, tail := points[0], points[0]
	var length float64

	for i := 0; i < len(rest); {
		p := rest[i]
		if d := planar.Distance(head, p); d < threshold {
			head = p
			length += d
			rest = slices.Delete(rest, i, i+1)
			i = 0
			continue
		}
		if d := planar.Distance(tail, p); d < threshold {
			tail = p
			length += d
			rest = slices.Delete(rest, i, i+1)
			i = 0
			continue
		}
		i++
	}

	return math.Max(length, LongestChain(rest, threshold))
}
