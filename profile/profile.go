// Package profile holds the narrative request produced by the classification
// engine and the redacted copy of it that is persisted next to a narrative.
package profile

import (
	"math"
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Classification is the outcome of the scoring engine.
type Classification string

const (
	Primary    Classification = "primary"
	Hybrid     Classification = "hybrid"
	Unresolved Classification = "unresolved"
)

// Valid reports whether c is one of the known classifications.
func (c Classification) Valid() bool {
	switch c {
	case Primary, Hybrid, Unresolved:
		return true
	}
	return false
}

// HDData is the chart digest attached to a request.
type HDData struct {
	Type      string   `json:"type" msgpack:"type"`
	Authority string   `json:"authority" msgpack:"authority"`
	Profile   string   `json:"profile" msgpack:"profile"`
	Centers   []string `json:"centers" msgpack:"centers"`
	Gates     []int    `json:"gates" msgpack:"gates"`
}

// Request is the input of a narrative lookup.
type Request struct {
	Classification Classification     `json:"classification"`
	Primary        string             `json:"primary,omitempty"`
	Hybrid         *[2]string         `json:"hybrid,omitempty"`
	Percentages    map[string]float64 `json:"percentages"`
	HDData         HDData             `json:"hdData"`
}

// Redacted is the part of a request kept in a cached entry for auditing. It
// carries no chart attributes.
type Redacted struct {
	Classification Classification     `json:"classification" msgpack:"classification"`
	Primary        string             `json:"primary,omitempty" msgpack:"primary,omitempty"`
	Hybrid         []string           `json:"hybrid,omitempty" msgpack:"hybrid,omitempty"`
	Percentages    map[string]float64 `json:"percentages" msgpack:"percentages"`
}

// Redact returns the auditable copy of r.
func (r Request) Redact() Redacted {
	out := Redacted{
		Classification: r.Classification,
		Primary:        r.Primary,
		Percentages:    make(map[string]float64, len(r.Percentages)),
	}
	if r.Hybrid != nil {
		out.Hybrid = []string{r.Hybrid[0], r.Hybrid[1]}
	}
	for k, v := range r.Percentages {
		out.Percentages[k] = v
	}
	return out
}

// Validate rejects requests the narrative service cannot describe. It is meant
// for the edge (CLI, HTTP); the cache layer assumes validated input.
func (r Request) Validate() error {
	if !r.Classification.Valid() {
		return errors.Newf("invalid classification %q", r.Classification)
	}
	if r.Classification == Primary && r.Primary == "" {
		return errors.New("primary classification requires a primary system")
	}
	if r.Classification == Hybrid && (r.Hybrid == nil || r.Hybrid[0] == "" || r.Hybrid[1] == "") {
		return errors.New("hybrid classification requires two systems")
	}
	if len(r.Percentages) == 0 {
		return errors.New("percentages are required")
	}
	return nil
}

// FormatPercent renders the percentage recorded for system with one decimal,
// or "0.0" when the system is absent.
func (r Request) FormatPercent(system string) string {
	v, ok := r.Percentages[system]
	if !ok {
		return "0.0"
	}
	return ToFixed1(v)
}

// ToFixed1 formats v with one decimal, rounding halves away from zero for
// positive values.
func ToFixed1(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(math.Floor(v*10+0.5)/10, 'f', 1, 64)
}

// SystemShare is one entry of the percentage table.
type SystemShare struct {
	System  string
	Percent float64
}

// TopSystems returns up to n systems ordered by descending percentage, ties
// broken by name.
func (r Request) TopSystems(n int) []SystemShare {
	out := make([]SystemShare, 0, len(r.Percentages))
	for k, v := range r.Percentages {
		out = append(out, SystemShare{System: k, Percent: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Percent != out[j].Percent {
			return out[i].Percent > out[j].Percent
		}
		return out[i].System < out[j].System
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
