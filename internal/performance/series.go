package performance

import "time"

// Observation is a single timestamped value (a portfolio value or a return).
type Observation struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Values strips the timestamps.
func Values(obs []Observation) []float64 {
	out := make([]float64, len(obs))
	for i, o := range obs {
		out[i] = o.Value
	}
	return out
}

// align inner-joins two series on timestamp, keeping the order of a.
func align(a, b []Observation) ([]float64, []float64) {
	idx := make(map[int64]float64, len(b))
	for _, o := range b {
		idx[o.Time.UnixNano()] = o.Value
	}
	left := make([]float64, 0, len(a))
	right := make([]float64, 0, len(a))
	for _, o := range a {
		v, ok := idx[o.Time.UnixNano()]
		if !ok {
			continue
		}
		left = append(left, o.Value)
		right = append(right, v)
	}
	return left, right
}
