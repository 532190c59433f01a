package redisrepo

import "math"

// Point is a geo position. X is longitude, Y is latitude.
type Point struct {
	X float64 `redis:"x"`
	Y float64 `redis:"y"`
}

// Coordinate limits accepted by GEOADD.
const (
	maxLongitude = 180
	maxLatitude  = 85.05112878
)

func (p Point) valid() bool {
	return math.Abs(p.X) <= maxLongitude && math.Abs(p.Y) <= maxLatitude
}

// Metric is a distance unit.
type Metric int

const (
	Meters Metric = iota
	Kilometers
	Miles
	Feet
)

// Unit returns unit name understood by GEORADIUS.
func (m Metric) Unit() string {
	switch m {
	case Kilometers:
		return "km"
	case Miles:
		return "mi"
	case Feet:
		return "ft"
	}
	return "m"
}

func (m Metric) meters() float64 {
	switch m {
	case Kilometers:
		return 1000
	case Miles:
		return 1609.34
	case Feet:
		return 0.3048
	}
	return 1
}

// Distance is a value in some metric.
type Distance struct {
	Value  float64
	Metric Metric
}

// Meters converts distance to meters.
func (d Distance) Meters() float64 {
	return d.Value * d.Metric.meters()
}

// Circle is a center with radius.
type Circle struct {
	Center Point
	Radius Distance
}

// Box is a rectangle given by two opposite corners.
type Box struct {
	First  Point
	Second Point
}

// Contains checks point is inside box (borders included).
func (b Box) Contains(p Point) bool {
	minX, maxX := math.Min(b.First.X, b.Second.X), math.Max(b.First.X, b.Second.X)
	minY, maxY := math.Min(b.First.Y, b.Second.Y), math.Max(b.First.Y, b.Second.Y)
	return minX <= p.X && p.X <= maxX && minY <= p.Y && p.Y <= maxY
}

// Center returns middle of the box.
func (b Box) Center() Point {
	return Point{X: (b.First.X + b.Second.X) / 2, Y: (b.First.Y + b.Second.Y) / 2}
}

// Circumscribed returns circle around the box.
func (b Box) Circumscribed() Circle {
	c := b.Center()
	r := 0.0
	for _, corner := range []Point{b.First, b.Second, {b.First.X, b.Second.Y}, {b.Second.X, b.First.Y}} {
		r = math.Max(r, GeoDistance(c, corner))
	}
	// geohash precision of redis is about 0.6m
	return Circle{Center: c, Radius: Distance{Value: r + 1, Metric: Meters}}
}

// earth radius used by redis
const earthRadius = 6372797.560856

// GeoDistance returns haversine distance in meters.
func GeoDistance(a, b Point) float64 {
	lat1, lat2 := a.Y*math.Pi/180, b.Y*math.Pi/180
	u := math.Sin((lat2 - lat1) / 2)
	v := math.Sin((b.X - a.X) * math.Pi / 180 / 2)
	return 2 * earthRadius * math.Asin(math.Sqrt(u*u+math.Cos(lat1)*math.Cos(lat2)*v*v))
}
