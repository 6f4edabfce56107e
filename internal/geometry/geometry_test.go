package geometry

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

const eps = 1e-9

// quadrantAngle is the per-quadrant case analysis the atan2 form replaced.
// It is kept here only for differential testing.
func quadrantAngle(p1, o, p2 orb.Point) float64 {
	a1 := orb.Point{p1[0] - o[0], p1[1] - o[1]}
	a2 := orb.Point{p2[0] - o[0], p2[1] - o[1]}
	tan := func(a orb.Point) float64 {
		if a[0] == 0 {
			return math.Pi / 2
		}
		return math.Atan(math.Abs(a[1] / a[0]))
	}
	quad := func(a orb.Point) int {
		switch {
		case a[0] >= 0 && a[1] >= 0:
			return 1
		case a[0] < 0 && a[1] >= 0:
			return 2
		case a[0] < 0 && a[1] < 0:
			return 3
		}
		return 4
	}
	t1, t2 := tan(a1), tan(a2)
	q1 := quad(a1)

	var r float64
	switch quad(a2) {
	case 1:
		r = [...]float64{t2 - t1, t1 + t2 - math.Pi, t2 - t1 + math.Pi, t1 + t2}[q1-1]
	case 2:
		r = [...]float64{math.Pi - t2 - t1, t1 - t2, -t1 - t2, t1 + math.Pi - t2}[q1-1]
	case 3:
		r = [...]float64{math.Pi + t2 - t1, t1 + t2, t2 - t1, t1 - math.Pi + t2}[q1-1]
	default:
		r = [...]float64{-t2 - t1, t1 - t2 - math.Pi, math.Pi - t2 - t1, t1 - t2}[q1-1]
	}
	if r > math.Pi {
		r -= 2 * math.Pi
	}
	return r
}

func TestOrientedAngle(t *testing.T) {
	t.Parallel()
	o := orb.Point{0, 0}

	tests := []struct {
		name   string
		p1, p2 orb.Point
		want   float64
	}{
		{"same point", orb.Point{3, 4}, orb.Point{3, 4}, 0},
		{"quarter ccw", orb.Point{1, 0}, orb.Point{0, 1}, math.Pi / 2},
		{"quarter cw", orb.Point{1, 0}, orb.Point{0, -1}, -math.Pi / 2},
		{"straight", orb.Point{1, 0}, orb.Point{-1, 0}, math.Pi},
		{"straight reversed", orb.Point{-1, 0}, orb.Point{1, 0}, math.Pi},
		{"across negative x axis", orb.Point{-1, 1}, orb.Point{-1, -1}, math.Pi / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, OrientedAngle(tt.p1, o, tt.p2), eps)
		})
	}
}

func TestOrientedAngleMatchesQuadrantForm(t *testing.T) {
	t.Parallel()
	o := orb.Point{0.3, 0.2}
	var compared int
	for x1 := -3.0; x1 <= 3; x1 += 0.7 {
		for y1 := -3.0; y1 <= 3; y1 += 0.9 {
			for x2 := -3.0; x2 <= 3; x2 += 0.8 {
				for y2 := -3.0; y2 <= 3; y2 += 0.6 {
					p1 := orb.Point{x1, y1}
					p2 := orb.Point{x2, y2}
					ref := normalizeAngle(quadrantAngle(p1, o, p2))
					if math.Abs(ref) > math.Pi-1e-6 {
						continue
					}
					got := OrientedAngle(p1, o, p2)
					if math.Abs(got-ref) > 1e-9 {
						t.Fatalf("OrientedAngle(%v, %v, %v) = %v, quadrant form = %v", p1, o, p2, got, ref)
					}
					compared++
				}
			}
		}
	}
	assert.Greater(t, compared, 1000)
}

func TestSignedDistance(t *testing.T) {
	t.Parallel()
	p1 := orb.Point{0, 0}
	p2 := orb.Point{10, 0}

	assert.InDelta(t, 0, SignedDistance(p1, p2, orb.Point{5, 0}), eps, "on segment")
	assert.InDelta(t, 0, SignedDistance(p1, p2, p1), eps, "on start")
	assert.InDelta(t, 5, SignedDistance(p1, p2, orb.Point{5, -5}), eps, "right side")
	assert.InDelta(t, -5, SignedDistance(p1, p2, orb.Point{5, 5}), eps, "left side")

	// Projection past the end falls back to the nearer endpoint.
	assert.InDelta(t, -math.Sqrt(34), SignedDistance(p1, p2, orb.Point{15, 3}), eps)
	assert.InDelta(t, math.Sqrt(34), SignedDistance(p1, p2, orb.Point{-5, -3}), eps)
}

func TestPolylineDistance(t *testing.T) {
	t.Parallel()
	line := orb.LineString{{0, 0}, {10, 0}, {10, 10}}

	assert.InDelta(t, -2, PolylineDistance(line, orb.Point{5, 2}), eps)
	assert.InDelta(t, 3, PolylineDistance(line, orb.Point{13, 5}), eps)
	assert.InDelta(t, -1, PolylineDistance(line, orb.Point{9, 5}), eps)
	assert.InDelta(t, 5, PolylineDistance(orb.LineString{{0, 0}}, orb.Point{3, 4}), eps)
	assert.True(t, math.IsInf(PolylineDistance(nil, orb.Point{1, 1}), 1))
}

func TestPolylineDistanceSkipsRepeatedPoints(t *testing.T) {
	t.Parallel()
	line := orb.LineString{{0, 0}, {10, 0}, {10, 0}, {10, 10}}

	// The zero-length segment at (10,0) would report only the 1px vertical
	// offset.
	assert.InDelta(t, math.Sqrt(401), math.Abs(PolylineDistance(line, orb.Point{30, -1})), eps)
	assert.InDelta(t, -2, PolylineDistance(line, orb.Point{5, 2}), eps)
	assert.InDelta(t, 5, PolylineDistance(orb.LineString{{1, 1}, {1, 1}}, orb.Point{4, 5}), eps)
}

func TestPolylineLength(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 20, PolylineLength(orb.LineString{{0, 0}, {10, 0}, {10, 10}}), eps)
	assert.Zero(t, PolylineLength(orb.LineString{{1, 1}}))
}

func TestPushForward(t *testing.T) {
	t.Parallel()
	p := PushForward(orb.Point{1, 1}, 2, math.Pi/2)
	assert.InDelta(t, 1, p[0], eps)
	assert.InDelta(t, 3, p[1], eps)
}

func TestInBox(t *testing.T) {
	t.Parallel()
	// Clockwise square with y up: interior on the right of every edge.
	ring := orb.Ring{{0, 10}, {10, 10}, {10, 0}, {0, 0}}

	assert.True(t, InBox(ring, orb.Point{5, 5}, 0))
	assert.False(t, InBox(ring, orb.Point{12, 5}, 0))
	assert.True(t, InBox(ring, orb.Point{12, 5}, DefaultBoxTolerance), "feathered edge")
	assert.False(t, InBox(ring, orb.Point{15, 5}, DefaultBoxTolerance))
	assert.False(t, InBox(ring[:2], orb.Point{5, 5}, 0), "degenerate ring")
}

func TestInCorridor(t *testing.T) {
	t.Parallel()
	straight := orb.LineString{{0, 0}, {100, 0}}
	bent := orb.LineString{{0, 0}, {50, 0}, {50, 50}}

	t.Run("points on the polyline", func(t *testing.T) {
		for _, line := range []orb.LineString{straight, bent} {
			for _, p := range line {
				assert.True(t, InCorridor(line, p, 0.5, 0.5), "vertex %v", p)
			}
			for i := 0; i < len(line)-1; i++ {
				mid := orb.Point{(line[i][0] + line[i+1][0]) / 2, (line[i][1] + line[i+1][1]) / 2}
				assert.True(t, InCorridor(line, mid, 0.5, 0.5), "midpoint %v", mid)
			}
		}
	})

	t.Run("straight band", func(t *testing.T) {
		assert.True(t, InCorridor(straight, orb.Point{50, 9}, 10, 10))
		assert.True(t, InCorridor(straight, orb.Point{50, -9}, 10, 10))
		assert.False(t, InCorridor(straight, orb.Point{50, 20}, 10, 10))
		assert.False(t, InCorridor(straight, orb.Point{50, -20}, 10, 10))
		assert.False(t, InCorridor(straight, orb.Point{150, 0}, 10, 10))
	})

	t.Run("asymmetric widths", func(t *testing.T) {
		assert.True(t, InCorridor(straight, orb.Point{50, 18}, 20, 5), "left")
		assert.False(t, InCorridor(straight, orb.Point{50, -18}, 20, 5), "right")
	})

	t.Run("around a bend", func(t *testing.T) {
		assert.True(t, InCorridor(bent, orb.Point{45, 5}, 10, 10))
		assert.True(t, InCorridor(bent, orb.Point{55, 25}, 10, 10))
		assert.False(t, InCorridor(bent, orb.Point{25, 30}, 10, 10))
	})

	t.Run("degenerate", func(t *testing.T) {
		assert.False(t, InCorridor(orb.LineString{{0, 0}}, orb.Point{0, 0}, 10, 10))
	})
}

func TestLongestChain(t *testing.T) {
	t.Parallel()

	assert.Zero(t, LongestChain(nil, DefaultChainThreshold))
	assert.Zero(t, LongestChain([]orb.Point{{3, 3}}, DefaultChainThreshold))
	assert.Zero(t, LongestChain([]orb.Point{{3, 3}, {3, 3}}, DefaultChainThreshold))

	line := []orb.Point{{0, 0}, {5, 0}, {10, 0}, {15, 0}}
	assert.InDelta(t, 15, LongestChain(line, DefaultChainThreshold), eps)

	// Seed in the middle: the chain grows in both directions.
	middle := []orb.Point{{10, 0}, {5, 0}, {15, 0}, {0, 0}, {20, 0}}
	assert.InDelta(t, 20, LongestChain(middle, DefaultChainThreshold), eps)

	// Two separate queues: the longer one wins.
	clusters := []orb.Point{{0, 0}, {4, 0}, {100, 0}, {106, 0}, {112, 0}}
	assert.InDelta(t, 12, LongestChain(clusters, DefaultChainThreshold), eps)

	// Nothing within threshold.
	sparse := []orb.Point{{0, 0}, {50, 0}, {100, 0}}
	assert.Zero(t, LongestChain(sparse, DefaultChainThreshold))

	// Input must not be modified.
	assert.Equal(t, orb.Point{10, 0}, middle[0])
	assert.Equal(t, orb.Point{5, 0}, middle[1])
}
