package drought

import (
	"errors"
	"time"

	"github.com/twpayne/go-geom"
)

// ErrNoDepartment is returned when a zone carries no usable department code.
var ErrNoDepartment = errors.New("zone has no department code")

// WaterType is the zone type for surface water; the only type kept.
const WaterType = "SUP"

// Feature is a decoded GIS feature with untyped properties.
type Feature struct {
	Geometry   geom.T
	Properties map[string]any
}

// Layer is a named collection of features, already in WGS 84.
type Layer struct {
	Name     string
	Features []Feature
}

// Zone is a restriction zone kept for display and aggregation.
type Zone struct {
	ID         string
	Type       string
	Level      Level
	DeptCode   string
	DeptName   string
	OrderFile  string
	Properties map[string]any
	Geometry   geom.T
}

// Department is a department crossed by the waterway network.
type Department struct {
	Code     string
	Name     string
	Geometry geom.T
}

// Order is one row of the restriction-order archive.
type Order struct {
	ID         string
	Start      time.Time
	End        time.Time
	Department string
	Levels     []string
	Types      []string
}

// ZoneEntry is one (level, type) pair of an exploded order.
type ZoneEntry struct {
	Department string
	Level      string
	Type       string
}

// Explode returns one entry per zone listed by the order. The two list
// columns are paired by position; surplus values on either side are ignored.
func (o Order) Explode() []ZoneEntry {
	n := len(o.Levels)
	if len(o.Types) < n {
		n = len(o.Types)
	}
	out := make([]ZoneEntry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ZoneEntry{Department: o.Department, Level: o.Levels[i], Type: o.Types[i]})
	}
	return out
}

// ActiveAt reports whether the order is in force at date (exclusive bounds).
func (o Order) ActiveAt(date time.Time) bool {
	return o.Start.Before(date) && o.End.After(date)
}
