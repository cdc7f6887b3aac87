package scoring

import (
	"strconv"
	"strings"
)

// Parameter names, in evaluation order.
const (
	ParamRespiratoryRate = "Respiratory Rate"
	ParamSpO2            = "SpO2"
	ParamTemperature     = "Temperature"
	ParamSystolicBP      = "Systolic BP"
	ParamPulseRate       = "Pulse Rate"
	ParamConsciousness   = "Consciousness"
)

const (
	// HighScoreThreshold is the aggregate at or above which a case is Red.
	HighScoreThreshold = 7
	// ElevatedScoreThreshold is the aggregate at or above which a case is at least Yellow.
	ElevatedScoreThreshold = 5
)

// band maps readings up to and including Upper to Score.
type band struct {
	Upper float64
	Score int
}

type vitalParam struct {
	name  string
	unit  string
	bands []band
	above int
}

var (
	respiratoryRateParam = vitalParam{ParamRespiratoryRate, " breaths/min", []band{{8, 3}, {11, 1}, {20, 0}, {24, 2}}, 3}
	spo2Param            = vitalParam{ParamSpO2, "%", []band{{91, 3}, {93, 2}, {95, 1}}, 0}
	temperatureParam     = vitalParam{ParamTemperature, "°C", []band{{35.0, 3}, {36.0, 1}, {38.0, 0}, {39.0, 1}}, 2}
	systolicBPParam      = vitalParam{ParamSystolicBP, " mmHg", []band{{90, 3}, {100, 2}, {110, 1}, {219, 0}}, 3}
	pulseRateParam       = vitalParam{ParamPulseRate, " bpm", []band{{40, 3}, {50, 1}, {90, 0}, {110, 1}, {130, 2}}, 3}
)

func (p vitalParam) score(reading *float64) (int, bool) {
	if reading == nil || finite(*reading) == nil {
		return 0, false
	}
	for _, b := range p.bands {
		if *reading <= b.Upper {
			return b.Score, true
		}
	}
	return p.above, true
}

func (p vitalParam) display(reading float64) string {
	return strconv.FormatFloat(reading, 'f', -1, 64) + p.unit
}

// ScoreRespiratoryRate returns the subscore for breaths per minute.
func ScoreRespiratoryRate(r *float64) (int, bool) { return respiratoryRateParam.score(r) }

// ScoreSpO2 returns the subscore for oxygen saturation in percent.
func ScoreSpO2(r *float64) (int, bool) { return spo2Param.score(r) }

// ScoreTemperature returns the subscore for body temperature in °C.
func ScoreTemperature(r *float64) (int, bool) { return temperatureParam.score(r) }

// ScoreSystolicBP returns the subscore for systolic pressure in mmHg.
func ScoreSystolicBP(r *float64) (int, bool) { return systolicBPParam.score(r) }

// ScorePulseRate returns the subscore for beats per minute.
func ScorePulseRate(r *float64) (int, bool) { return pulseRateParam.score(r) }

// ScoreConsciousness returns 0 for Alert and 3 for any other AVPU level.
func ScoreConsciousness(c *Consciousness) (int, bool) {
	if c == nil {
		return 0, false
	}
	switch *c {
	case Alert:
		return 0, true
	case Confusion, Voice, Pain, Unresponsive:
		return 3, true
	}
	return 0, false
}

// Compute scores the readings and classifies the result. It never fails:
// absent or malformed readings are listed in MissingParameters.
func Compute(v VitalReadings, redFlags []string) Result {
	res := Result{
		Breakdown:         make([]BreakdownEntry, 0, 6),
		MissingParameters: []string{},
		RedFlags:          NormalizeRedFlags(redFlags),
	}

	vitals := []struct {
		param   vitalParam
		reading *float64
	}{
		{respiratoryRateParam, v.RespiratoryRate},
		{spo2Param, v.SpO2},
		{temperatureParam, v.Temperature},
		{systolicBPParam, v.SystolicBP},
		{pulseRateParam, v.PulseRate},
	}
	for _, vt := range vitals {
		sub, ok := vt.param.score(vt.reading)
		if !ok {
			res.MissingParameters = append(res.MissingParameters, vt.param.name)
			continue
		}
		res.TotalScore += sub
		res.Breakdown = append(res.Breakdown, BreakdownEntry{
			Parameter:    vt.param.name,
			DisplayValue: vt.param.display(*vt.reading),
			Subscore:     sub,
		})
	}

	if sub, ok := ScoreConsciousness(v.Consciousness); ok {
		res.TotalScore += sub
		res.Breakdown = append(res.Breakdown, BreakdownEntry{
			Parameter:    ParamConsciousness,
			DisplayValue: string(*v.Consciousness),
			Subscore:     sub,
		})
	} else {
		res.MissingParameters = append(res.MissingParameters, ParamConsciousness)
	}

	res.HasRedFlags = len(res.RedFlags) > 0
	res.RiskLevel = Classify(res.TotalScore, res.HasSubscore(3), res.HasRedFlags)
	res.IsPartial = len(res.MissingParameters) > 0
	return res
}

// NormalizeRedFlags trims each flag and drops blanks and exact duplicates,
// keeping first-seen order.
func NormalizeRedFlags(flags []string) []string {
	out := make([]string, 0, len(flags))
	seen := make(map[string]bool, len(flags))
	for _, f := range flags {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
