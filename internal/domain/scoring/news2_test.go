package scoring

import (
	"math"
	"reflect"
	"testing"
)

func ptrFloat(f float64) *float64 { return &f }

func ptrAVPU(c Consciousness) *Consciousness { return &c }

func TestScoreRespiratoryRate_Boundaries(t *testing.T) {
	tests := []struct {
		rate float64
		want int
	}{
		{6, 3}, {7, 3}, {8, 3}, {9, 1}, {10, 1}, {11, 1}, {12, 0}, {13, 0},
		{19, 0}, {20, 0}, {21, 2}, {23, 2}, {24, 2}, {25, 3}, {26, 3}, {40, 3},
	}
	for _, tt := range tests {
		got, ok := ScoreRespiratoryRate(ptrFloat(tt.rate))
		if !ok {
			t.Fatalf("rate %v: expected a subscore", tt.rate)
		}
		if got != tt.want {
			t.Errorf("ScoreRespiratoryRate(%v) = %d, want %d", tt.rate, got, tt.want)
		}
	}
}

func TestScoreSpO2_Boundaries(t *testing.T) {
	tests := []struct {
		value float64
		want  int
	}{
		{85, 3}, {91, 3}, {92, 2}, {93, 2}, {94, 1}, {95, 1}, {96, 0}, {100, 0},
	}
	for _, tt := range tests {
		if got, _ := ScoreSpO2(ptrFloat(tt.value)); got != tt.want {
			t.Errorf("ScoreSpO2(%v) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestScoreTemperature_Boundaries(t *testing.T) {
	tests := []struct {
		value float64
		want  int
	}{
		{34.9, 3}, {35.0, 3}, {35.1, 1}, {36.0, 1}, {36.1, 0}, {37, 0}, {38.0, 0},
		{38.1, 1}, {39.0, 1}, {39.1, 2}, {41, 2},
	}
	for _, tt := range tests {
		if got, _ := ScoreTemperature(ptrFloat(tt.value)); got != tt.want {
			t.Errorf("ScoreTemperature(%v) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestScoreSystolicBP_Boundaries(t *testing.T) {
	tests := []struct {
		value float64
		want  int
	}{
		{80, 3}, {90, 3}, {91, 2}, {100, 2}, {101, 1}, {110, 1}, {111, 0},
		{219, 0}, {220, 3},
	}
	for _, tt := range tests {
		if got, _ := ScoreSystolicBP(ptrFloat(tt.value)); got != tt.want {
			t.Errorf("ScoreSystolicBP(%v) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestScorePulseRate_Boundaries(t *testing.T) {
	tests := []struct {
		value float64
		want  int
	}{
		{35, 3}, {40, 3}, {41, 1}, {50, 1}, {51, 0}, {90, 0}, {91, 1},
		{110, 1}, {111, 2}, {130, 2}, {131, 3},
	}
	for _, tt := range tests {
		if got, _ := ScorePulseRate(ptrFloat(tt.value)); got != tt.want {
			t.Errorf("ScorePulseRate(%v) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestScoreConsciousness(t *testing.T) {
	if got, ok := ScoreConsciousness(ptrAVPU(Alert)); !ok || got != 0 {
		t.Errorf("Alert: got (%d, %v), want (0, true)", got, ok)
	}
	for _, c := range []Consciousness{Confusion, Voice, Pain, Unresponsive} {
		if got, ok := ScoreConsciousness(ptrAVPU(c)); !ok || got != 3 {
			t.Errorf("%s: got (%d, %v), want (3, true)", c, got, ok)
		}
	}
	if _, ok := ScoreConsciousness(nil); ok {
		t.Error("nil consciousness should be absent")
	}
	if _, ok := ScoreConsciousness(ptrAVPU("Drowsy")); ok {
		t.Error("undefined consciousness value should be absent")
	}
}

func TestCompute_NewConfusionForcesYellow(t *testing.T) {
	r := Compute(VitalReadings{Consciousness: ParseConsciousness("C")}, nil)
	if r.TotalScore != 3 || r.RiskLevel != RiskYellow {
		t.Errorf("got total=%d risk=%s, want 3/Yellow", r.TotalScore, r.RiskLevel)
	}
	for _, m := range r.MissingParameters {
		if m == ParamConsciousness {
			t.Error("confusion must be scored, not reported missing")
		}
	}
}

func TestVitalScores_NonFiniteIsAbsent(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, ok := ScorePulseRate(ptrFloat(v)); ok {
			t.Errorf("ScorePulseRate(%v) should be absent", v)
		}
	}
	if _, ok := ScoreSpO2(nil); ok {
		t.Error("nil SpO2 should be absent")
	}
}

func TestCompute_YellowByAggregate(t *testing.T) {
	v := VitalReadings{
		RespiratoryRate: ptrFloat(9),
		SpO2:            ptrFloat(94),
		Temperature:     ptrFloat(37),
		SystolicBP:      ptrFloat(95),
		PulseRate:       ptrFloat(45),
		Consciousness:   ptrAVPU(Alert),
	}
	res := Compute(v, nil)

	var subs []int
	for _, e := range res.Breakdown {
		subs = append(subs, e.Subscore)
	}
	if !reflect.DeepEqual(subs, []int{1, 1, 0, 2, 1, 0}) {
		t.Errorf("subscores = %v, want [1 1 0 2 1 0]", subs)
	}
	if res.TotalScore != 5 {
		t.Errorf("total = %d, want 5", res.TotalScore)
	}
	if res.RiskLevel != RiskYellow {
		t.Errorf("risk = %s, want Yellow", res.RiskLevel)
	}
	if res.IsPartial {
		t.Error("expected complete result")
	}
	if res.HasRedFlags {
		t.Error("expected no red flags")
	}
}

func TestCompute_AllAbsent(t *testing.T) {
	res := Compute(VitalReadings{}, nil)
	if res.TotalScore != 0 {
		t.Errorf("total = %d, want 0", res.TotalScore)
	}
	if len(res.MissingParameters) != 6 {
		t.Errorf("missing = %v, want 6 entries", res.MissingParameters)
	}
	if !res.IsPartial {
		t.Error("expected partial result")
	}
	if res.RiskLevel != RiskGreen {
		t.Errorf("risk = %s, want Green", res.RiskLevel)
	}
	if len(res.Breakdown) != 0 {
		t.Errorf("breakdown = %v, want empty", res.Breakdown)
	}
}

func TestCompute_RedFlagOverride(t *testing.T) {
	res := Compute(VitalReadings{RespiratoryRate: ptrFloat(6)}, []string{"Seizure"})
	if res.TotalScore != 3 {
		t.Errorf("total = %d, want 3", res.TotalScore)
	}
	if res.RiskLevel != RiskRed {
		t.Errorf("risk = %s, want Red", res.RiskLevel)
	}
	if !res.IsPartial || len(res.MissingParameters) != 5 {
		t.Errorf("missing = %v, want 5 entries", res.MissingParameters)
	}
	if !res.HasRedFlags {
		t.Error("expected red flags")
	}
}

func TestCompute_RedFlagWithNormalVitals(t *testing.T) {
	v := VitalReadings{
		RespiratoryRate: ptrFloat(16),
		SpO2:            ptrFloat(98),
		Temperature:     ptrFloat(37),
		SystolicBP:      ptrFloat(120),
		PulseRate:       ptrFloat(72),
		Consciousness:   ptrAVPU(Alert),
	}
	res := Compute(v, []string{"Chest pain"})
	if res.TotalScore != 0 {
		t.Errorf("total = %d, want 0", res.TotalScore)
	}
	if res.RiskLevel != RiskRed {
		t.Errorf("risk = %s, want Red", res.RiskLevel)
	}
}

func TestCompute_SingleThreeForcesYellow(t *testing.T) {
	// RR 25 -> 3, pulse 95 -> 1: total 4 with a single 3.
	v := VitalReadings{
		RespiratoryRate: ptrFloat(25),
		SpO2:            ptrFloat(98),
		Temperature:     ptrFloat(37),
		SystolicBP:      ptrFloat(120),
		PulseRate:       ptrFloat(95),
		Consciousness:   ptrAVPU(Alert),
	}
	res := Compute(v, nil)
	if res.TotalScore != 4 {
		t.Fatalf("total = %d, want 4", res.TotalScore)
	}
	if res.RiskLevel != RiskYellow {
		t.Errorf("risk = %s, want Yellow", res.RiskLevel)
	}
}

func TestCompute_HighAggregateIsRed(t *testing.T) {
	// 2 + 2 + 1 + 2 + 0 + 0 = 7 with no 3s.
	v := VitalReadings{
		RespiratoryRate: ptrFloat(22),
		SpO2:            ptrFloat(92),
		Temperature:     ptrFloat(38.5),
		SystolicBP:      ptrFloat(95),
		PulseRate:       ptrFloat(80),
		Consciousness:   ptrAVPU(Alert),
	}
	res := Compute(v, nil)
	if res.TotalScore != 7 {
		t.Fatalf("total = %d, want 7", res.TotalScore)
	}
	if res.HasSubscore(3) {
		t.Fatal("fixture should not contain a subscore of 3")
	}
	if res.RiskLevel != RiskRed {
		t.Errorf("risk = %s, want Red", res.RiskLevel)
	}
}

func TestCompute_TotalEqualsBreakdownSum(t *testing.T) {
	inputs := []VitalReadings{
		{},
		{PulseRate: ptrFloat(140)},
		{SpO2: ptrFloat(90), Temperature: ptrFloat(math.NaN()), Consciousness: ptrAVPU(Pain)},
		{RespiratoryRate: ptrFloat(30), SpO2: ptrFloat(88), Temperature: ptrFloat(34), SystolicBP: ptrFloat(85), PulseRate: ptrFloat(135), Consciousness: ptrAVPU(Unresponsive)},
	}
	for i, v := range inputs {
		res := Compute(v, nil)
		sum := 0
		for _, e := range res.Breakdown {
			sum += e.Subscore
		}
		if sum != res.TotalScore {
			t.Errorf("case %d: total %d != breakdown sum %d", i, res.TotalScore, sum)
		}
		if res.IsPartial != (len(res.MissingParameters) > 0) {
			t.Errorf("case %d: IsPartial=%v with missing=%v", i, res.IsPartial, res.MissingParameters)
		}
		if len(res.Breakdown)+len(res.MissingParameters) != 6 {
			t.Errorf("case %d: every parameter must be scored or missing", i)
		}
	}
}

func TestCompute_Idempotent(t *testing.T) {
	v := VitalReadings{RespiratoryRate: ptrFloat(21), SpO2: ptrFloat(93), Consciousness: ptrAVPU(Voice)}
	flags := []string{"Persistent vomiting"}
	a := Compute(v, flags)
	b := Compute(v, flags)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("results differ:\n%+v\n%+v", a, b)
	}
}

func TestCompute_DisplayValues(t *testing.T) {
	v := VitalReadings{
		RespiratoryRate: ptrFloat(18),
		SpO2:            ptrFloat(97),
		Temperature:     ptrFloat(37.2),
		SystolicBP:      ptrFloat(118),
		PulseRate:       ptrFloat(76),
		Consciousness:   ptrAVPU(Voice),
	}
	res := Compute(v, nil)
	want := []BreakdownEntry{
		{ParamRespiratoryRate, "18 breaths/min", 0},
		{ParamSpO2, "97%", 0},
		{ParamTemperature, "37.2°C", 0},
		{ParamSystolicBP, "118 mmHg", 0},
		{ParamPulseRate, "76 bpm", 0},
		{ParamConsciousness, "Voice", 3},
	}
	if !reflect.DeepEqual(res.Breakdown, want) {
		t.Errorf("breakdown = %+v\nwant %+v", res.Breakdown, want)
	}
}

func TestCompute_BlankRedFlagsIgnored(t *testing.T) {
	res := Compute(VitalReadings{}, []string{"", "   "})
	if res.HasRedFlags {
		t.Error("blank flags should not count as red flags")
	}
	if res.RiskLevel != RiskGreen {
		t.Errorf("risk = %s, want Green", res.RiskLevel)
	}
}

func TestNormalizeRedFlags(t *testing.T) {
	got := NormalizeRedFlags([]string{" Seizure ", "Chest pain", "Seizure", ""})
	want := []string{"Seizure", "Chest pain"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeRedFlags = %v, want %v", got, want)
	}
}
