package pipeline

import "time"

// Point is one immutable metric sample ready for the sink wire format.
// Params: measurement name, tag/field maps, and sample timestamp.
// Returns: one time-series point entity.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

// Batch is the ordered point set produced by one flush. Ownership
// transfers to the sink on write.
// Params: none.
// Returns: flush batch value.
type Batch []Point
