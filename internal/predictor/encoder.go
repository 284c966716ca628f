package predictor

import (
	"fmt"
	"math"
	"strings"
	"time"

	"countwatch/internal/model"
)

type scalarEncoder struct {
	min, max, resolution float64
}

func newScalarEncoder(p model.EncoderParams) scalarEncoder {
	return scalarEncoder{min: p.MinValue, max: p.MaxValue, resolution: p.Resolution}
}

// bucket maps v onto a bucket index; values outside [min,max] clamp to the edges.
func (e scalarEncoder) bucket(v float64) int {
	if v < e.min {
		v = e.min
	}
	if v > e.max {
		v = e.max
	}
	return int(math.Round((v - e.min) / e.resolution))
}

func (e scalarEncoder) center(bucket int) float64 {
	return e.min + float64(bucket)*e.resolution
}

type dateEncoder struct {
	timeOfDay bool
	dayOfWeek bool
}

func newDateEncoder(p model.EncoderParams) dateEncoder {
	return dateEncoder{timeOfDay: p.TimeOfDay, dayOfWeek: p.DayOfWeek}
}

func (e dateEncoder) context(ts time.Time) string {
	var parts []string
	if e.timeOfDay {
		parts = append(parts, fmt.Sprintf("h=%d", ts.Hour()))
	}
	if e.dayOfWeek {
		parts = append(parts, fmt.Sprintf("d=%d", int(ts.Weekday())))
	}
	return strings.Join(parts, ",")
}
