package scoring

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Consciousness is the ACVPU level recorded at the bedside.
type Consciousness string

const (
	Alert        Consciousness = "Alert"
	Confusion    Consciousness = "Confusion" // new-onset confusion, the C of ACVPU
	Voice        Consciousness = "Voice"
	Pain         Consciousness = "Pain"
	Unresponsive Consciousness = "Unresponsive"
)

// ParseConsciousness accepts the full label or its ACVPU initial, case-insensitively.
// Unknown input yields nil so it is scored as missing rather than guessed.
func ParseConsciousness(s string) *Consciousness {
	var c Consciousness
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "alert", "a":
		c = Alert
	case "confusion", "confused", "new confusion", "c":
		c = Confusion
	case "voice", "v":
		c = Voice
	case "pain", "p":
		c = Pain
	case "unresponsive", "u":
		c = Unresponsive
	default:
		return nil
	}
	return &c
}

// VitalReadings is one snapshot of measured physiology. A nil field means the
// reading was not taken.
type VitalReadings struct {
	RespiratoryRate *float64       `json:"respiratory_rate,omitempty"`
	SpO2            *float64       `json:"spo2,omitempty"`
	Temperature     *float64       `json:"temperature,omitempty"`
	SystolicBP      *float64       `json:"systolic_bp,omitempty"`
	PulseRate       *float64       `json:"pulse_rate,omitempty"`
	Consciousness   *Consciousness `json:"consciousness,omitempty"`
}

// UnmarshalJSON decodes readings submitted from field forms, where a value may
// arrive as a number, a numeric string, an empty string or null.
func (v *VitalReadings) UnmarshalJSON(data []byte) error {
	var raw struct {
		RespiratoryRate json.RawMessage `json:"respiratory_rate"`
		SpO2            json.RawMessage `json:"spo2"`
		Temperature     json.RawMessage `json:"temperature"`
		SystolicBP      json.RawMessage `json:"systolic_bp"`
		PulseRate       json.RawMessage `json:"pulse_rate"`
		Consciousness   *string         `json:"consciousness"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = VitalReadings{
		RespiratoryRate: decodeReading(raw.RespiratoryRate),
		SpO2:            decodeReading(raw.SpO2),
		Temperature:     decodeReading(raw.Temperature),
		SystolicBP:      decodeReading(raw.SystolicBP),
		PulseRate:       decodeReading(raw.PulseRate),
	}
	if raw.Consciousness != nil {
		v.Consciousness = ParseConsciousness(*raw.Consciousness)
	}
	return nil
}

func decodeReading(msg json.RawMessage) *float64 {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
		return nil
	}
	if msg[0] == '"' {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return nil
		}
		return ParseReading(s)
	}
	var f float64
	if err := json.Unmarshal(msg, &f); err != nil {
		return nil
	}
	return finite(f)
}

// ParseReading converts free-form input into a reading. Empty, unparsable and
// non-finite input all yield nil.
func ParseReading(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return finite(f)
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// BreakdownEntry is the subscore awarded to one parameter.
type BreakdownEntry struct {
	Parameter    string `json:"parameter"`
	DisplayValue string `json:"display_value"`
	Subscore     int    `json:"subscore"`
}

// Result is the outcome of scoring one set of readings.
type Result struct {
	TotalScore        int              `json:"total_score"`
	RiskLevel         RiskLevel        `json:"risk_level"`
	Breakdown         []BreakdownEntry `json:"breakdown"`
	MissingParameters []string         `json:"missing_parameters"`
	RedFlags          []string         `json:"red_flags"`
	HasRedFlags       bool             `json:"has_red_flags"`
	IsPartial         bool             `json:"is_partial"`
}

// HasSubscore reports whether any breakdown entry scored exactly n.
func (r Result) HasSubscore(n int) bool {
	for _, e := range r.Breakdown {
		if e.Subscore == n {
			return true
		}
	}
	return false
}
