package source

import (
	"math"

	"github.com/twpayne/go-geom"
)

// Lambert-93 (EPSG:2154) parameters on the GRS 80 ellipsoid, as published by
// IGN for the inverse conformal conic projection.
const (
	lambertN  = 0.7256077650532670
	lambertC  = 11754255.426096
	lambertXs = 700000.0
	lambertYs = 12655612.049876
	grs80E    = 0.08181919104281579
	lambert0  = 3.0 * math.Pi / 180.0

	latTolerance = 1e-11
	maxLatIter   = 50
)

// Lambert93ToWGS84 converts Lambert-93 metres to longitude/latitude degrees.
func Lambert93ToWGS84(x, y float64) (lon, lat float64) {
	dx := x - lambertXs
	dy := y - lambertYs
	r := math.Hypot(dx, dy)
	gamma := math.Atan2(dx, -dy)
	lambda := lambert0 + gamma/lambertN
	isoLat := -math.Log(math.Abs(r/lambertC)) / lambertN

	phi := 2*math.Atan(math.Exp(isoLat)) - math.Pi/2
	for i := 0; i < maxLatIter; i++ {
		es := grs80E * math.Sin(phi)
		next := 2*math.Atan(math.Pow((1+es)/(1-es), grs80E/2)*math.Exp(isoLat)) - math.Pi/2
		if math.Abs(next-phi) < latTolerance {
			phi = next
			break
		}
		phi = next
	}
	return lambda * 180 / math.Pi, phi * 180 / math.Pi
}

// Reproject rewrites the X/Y ordinates of g in place.
func Reproject(g geom.T, fn func(x, y float64) (float64, float64)) {
	if g == nil {
		return
	}
	flat := g.FlatCoords()
	stride := g.Stride()
	if stride < 2 {
		return
	}
	for i := 0; i+1 < len(flat); i += stride {
		flat[i], flat[i+1] = fn(flat[i], flat[i+1])
	}
}

// Bounds returns the combined bounds of features, or nil when none has a
// geometry.
func Bounds(layers ...[]geom.T) *geom.Bounds {
	var b *geom.Bounds
	for _, layer := range layers {
		for _, g := range layer {
			if g == nil || g.Empty() {
				continue
			}
			if b == nil {
				b = geom.NewBounds(geom.XY)
				b.Set(g.Bounds().Min(0), g.Bounds().Min(1), g.Bounds().Max(0), g.Bounds().Max(1))
				continue
			}
			b.Extend(g)
		}
	}
	return b
}
