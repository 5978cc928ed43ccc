package geo

import "github.com/twpayne/go-geom"

// ContainsPoint reports whether (x, y) falls inside the multipolygon under
// the even-odd rule. Crossings are counted over every ring of every member
// polygon, so hole rings exclude their interior regardless of orientation.
func ContainsPoint(mp *geom.MultiPolygon, x, y float64) bool {
	inside := false
	stride := mp.Layout().Stride()
	for pi := 0; pi < mp.NumPolygons(); pi++ {
		poly := mp.Polygon(pi)
		for ri := 0; ri < poly.NumLinearRings(); ri++ {
			if rayCrossesRing(poly.LinearRing(ri).FlatCoords(), stride, x, y) {
				inside = !inside
			}
		}
	}
	return inside
}

// rayCrossesRing reports whether a ray cast from (x, y) towards +X crosses
// the ring an odd number of times. Coords are interleaved with the given
// stride, X and Y first; the ring is treated as closed whether or not the
// last vertex repeats the first.
func rayCrossesRing(flat []float64, stride int, x, y float64) bool {
	n := len(flat) / stride
	if n < 3 {
		return false
	}
	crossed := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := flat[stride*i], flat[stride*i+1]
		xj, yj := flat[stride*j], flat[stride*j+1]
		if (yi > y) != (yj > y) {
			if x < (xj-xi)*(y-yi)/(yj-yi)+xi {
				crossed = !crossed
			}
		}
		j = i
	}
	return crossed
}
