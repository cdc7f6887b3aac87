package visit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/phcwatch/phcwatch/internal/domain/scoring"
	"github.com/phcwatch/phcwatch/internal/platform/fhir"
)

const (
	news2SNOMEDCode = "1104051000000101"
	news2Display    = "Royal College of Physicians NEWS2 (National Early Warning Score 2) total score"
	vitalsPanelID   = "news2-vitals"

	extTotalScore = "https://phcwatch.org/fhir/StructureDefinition/news2-total-score"
	extPartial    = "https://phcwatch.org/fhir/StructureDefinition/news2-partial"
	extEmergency  = "https://phcwatch.org/fhir/StructureDefinition/emergency-flag"
	extStatus     = "https://phcwatch.org/fhir/StructureDefinition/case-status"
)

type vitalCode struct {
	loinc   string
	display string
	unit    string
	ucum    string
}

var vitalCodes = map[string]vitalCode{
	scoring.ParamRespiratoryRate: {"9279-1", "Respiratory rate", "breaths/min", "/min"},
	scoring.ParamSpO2:            {"59408-5", "Oxygen saturation in Arterial blood by Pulse oximetry", "%", "%"},
	scoring.ParamTemperature:     {"8310-5", "Body temperature", "°C", "Cel"},
	scoring.ParamSystolicBP:      {"8480-6", "Systolic blood pressure", "mmHg", "mm[Hg]"},
	scoring.ParamPulseRate:       {"8867-4", "Heart rate", "beats/min", "/min"},
	scoring.ParamConsciousness:   {"80288-4", "Level of consciousness", "", ""},
}

var qualitativeRisk = map[scoring.RiskLevel][2]string{
	scoring.RiskRed:    {"high", "High likelihood"},
	scoring.RiskYellow: {"moderate", "Moderate likelihood"},
	scoring.RiskGreen:  {"low", "Low likelihood"},
}

func (v *Visit) readings() map[string]*float64 {
	return map[string]*float64{
		scoring.ParamRespiratoryRate: v.Vitals.RespiratoryRate,
		scoring.ParamSpO2:            v.Vitals.SpO2,
		scoring.ParamTemperature:     v.Vitals.Temperature,
		scoring.ParamSystolicBP:      v.Vitals.SystolicBP,
		scoring.ParamPulseRate:       v.Vitals.PulseRate,
	}
}

// ToFHIR renders the visit as a RiskAssessment with the scored vital signs
// contained as an Observation.
func (v *Visit) ToFHIR() fhir.RiskAssessment {
	id := v.ID.String()
	total := v.TotalScore
	partial := v.IsPartial
	emergency := v.EmergencyFlag
	occurred := v.CreatedAt

	ra := fhir.RiskAssessment{
		ResourceType: "RiskAssessment",
		ID:           id,
		Meta: &fhir.Meta{
			VersionID:   strconv.Itoa(v.Version),
			LastUpdated: v.UpdatedAt,
		},
		Extension: []fhir.Extension{
			{URL: extTotalScore, ValueInteger: &total},
			{URL: extPartial, ValueBoolean: &partial},
			{URL: extEmergency, ValueBoolean: &emergency},
			{URL: extStatus, ValueString: string(v.Status)},
		},
		Status:             "final",
		Method:             fhir.Concept(fhir.SystemSNOMED, news2SNOMEDCode, news2Display),
		OccurrenceDateTime: &occurred,
		Basis:              []fhir.Reference{{Reference: fhir.ContainedReference(vitalsPanelID)}},
	}
	if v.IsPartial {
		ra.Status = "preliminary"
	}

	if v.PatientID != nil {
		ra.Subject = fhir.Reference{Reference: fhir.FormatReference("Patient", v.PatientID.String()), Display: v.PatientName}
	} else {
		ra.Subject = fhir.Reference{Display: v.PatientName}
	}
	if v.CreatedBy != "" {
		ra.Performer = &fhir.Reference{
			Reference: fhir.FormatReference("Practitioner", v.CreatedBy),
			Display:   v.CreatedByName,
		}
	}

	ra.Contained = []fhir.Observation{v.vitalsObservation()}

	if q, ok := qualitativeRisk[v.RiskLevel]; ok {
		rationale := fmt.Sprintf("NEWS2 total %d", v.TotalScore)
		if len(v.RedFlags) > 0 {
			rationale += "; red flags: " + strings.Join(v.RedFlags, ", ")
		}
		ra.Prediction = []fhir.RiskPrediction{{
			Outcome:         &fhir.CodeableConcept{Text: "Clinical deterioration"},
			QualitativeRisk: fhir.Concept(fhir.SystemRiskProbable, q[0], q[1]),
			Rationale:       rationale,
		}}
		ra.Mitigation = strings.Join(scoring.Advice(v.RiskLevel), "; ")
	}

	for _, b := range v.Breakdown {
		ra.Note = append(ra.Note, fhir.Annotation{
			Text: fmt.Sprintf("%s: %s (subscore %d)", b.Parameter, b.DisplayValue, b.Subscore),
		})
	}
	if len(v.MissingParameters) > 0 {
		ra.Note = append(ra.Note, fhir.Annotation{
			Text: "Not measured: " + strings.Join(v.MissingParameters, ", "),
		})
	}
	if v.DecisionNote != nil && v.ReviewedBy != nil {
		ra.Note = append(ra.Note, fhir.Annotation{
			AuthorString: *v.ReviewedBy,
			Time:         v.ReviewedAt,
			Text:         *v.DecisionNote,
		})
	}
	return ra
}

func (v *Visit) vitalsObservation() fhir.Observation {
	effective := v.CreatedAt
	total := v.TotalScore
	obs := fhir.Observation{
		ResourceType:      "Observation",
		ID:                vitalsPanelID,
		Status:            "final",
		Category:          []fhir.CodeableConcept{*fhir.Concept(fhir.SystemObsCategory, "vital-signs", "Vital Signs")},
		Code:              *fhir.Concept(fhir.SystemSNOMED, news2SNOMEDCode, news2Display),
		EffectiveDateTime: &effective,
		ValueInteger:      &total,
	}
	if v.PatientID != nil {
		obs.Subject = &fhir.Reference{Reference: fhir.FormatReference("Patient", v.PatientID.String())}
	}

	readings := v.readings()
	for _, b := range v.Breakdown {
		code, ok := vitalCodes[b.Parameter]
		if !ok {
			continue
		}
		comp := fhir.ObservationComponent{
			Code:           *fhir.Concept(fhir.SystemLOINC, code.loinc, code.display),
			Interpretation: []fhir.CodeableConcept{{Text: fmt.Sprintf("NEWS2 subscore %d", b.Subscore)}},
		}
		if r := readings[b.Parameter]; r != nil {
			comp.ValueQuantity = &fhir.Quantity{Value: *r, Unit: code.unit, System: "http://unitsofmeasure.org", Code: code.ucum}
		} else {
			comp.ValueCodeableConcept = &fhir.CodeableConcept{Text: b.DisplayValue}
		}
		obs.Component = append(obs.Component, comp)
	}
	return obs
}
