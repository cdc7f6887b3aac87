package scoring

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// RiskLevel is the categorical outcome of scoring.
type RiskLevel string

const (
	RiskGreen  RiskLevel = "Green"
	RiskYellow RiskLevel = "Yellow"
	RiskRed    RiskLevel = "Red"
	// RiskUnclassified marks records that were never scored.
	RiskUnclassified RiskLevel = ""
)

// Rank orders risk levels for triage: Red > Yellow > Green > unclassified.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskRed:
		return 3
	case RiskYellow:
		return 2
	case RiskGreen:
		return 1
	}
	return 0
}

// Valid reports whether r is one of the three scored levels.
func (r RiskLevel) Valid() bool {
	return r.Rank() > 0
}

// ParseRiskLevel accepts a level name case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "green":
		return RiskGreen, nil
	case "yellow":
		return RiskYellow, nil
	case "red":
		return RiskRed, nil
	}
	return RiskUnclassified, fmt.Errorf("invalid risk level: %q", s)
}

// Classify applies the escalation policy. Order matters: red flags override
// everything, then the high aggregate, then the elevated aggregate or any
// single parameter scoring 3.
func Classify(total int, anySingle3, hasRedFlags bool) RiskLevel {
	switch {
	case hasRedFlags:
		return RiskRed
	case total >= HighScoreThreshold:
		return RiskRed
	case total >= ElevatedScoreThreshold || anySingle3:
		return RiskYellow
	default:
		return RiskGreen
	}
}

var advice = map[RiskLevel][]string{
	RiskGreen: {
		"Encourage oral fluids and rest",
		"Continue routine monitoring at the next scheduled visit",
		"Advise the family to report any new symptoms",
	},
	RiskYellow: {
		"Recheck all vital signs within one hour",
		"Notify the PHC medical officer",
		"Keep the patient under close observation",
	},
	RiskRed: {
		"Refer to the PHC or higher facility immediately",
		"Arrange emergency transport",
		"Stay with the patient and keep the airway clear until help arrives",
	},
}

var unknownAdvice = []string{"Risk level unknown: recheck vital signs and consult the PHC medical officer"}

// Advice returns the recommended actions for a risk level. A level outside the
// table is an internal fault; it is logged and the generic advice is returned.
func Advice(level RiskLevel) []string {
	items, ok := advice[level]
	if !ok {
		log.Warn().Str("risk_level", string(level)).Msg("no advisory configured for risk level")
		items = unknownAdvice
	}
	out := make([]string, len(items))
	copy(out, items)
	return out
}

var knownRedFlags = []string{
	"Severe breathlessness",
	"Chest pain",
	"Persistent vomiting",
	"Seizure",
	"Unconsciousness",
	"Heavy bleeding",
	"Severe dehydration",
	"Altered sensorium",
}

// KnownRedFlags lists the symptoms offered as presets on the visit form.
func KnownRedFlags() []string {
	out := make([]string, len(knownRedFlags))
	copy(out, knownRedFlags)
	return out
}
