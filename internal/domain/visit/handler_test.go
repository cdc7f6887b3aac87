package visit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/phcwatch/phcwatch/internal/domain/scoring"
	"github.com/phcwatch/phcwatch/internal/platform/auth"
	"github.com/phcwatch/phcwatch/internal/platform/fhir"
	"github.com/phcwatch/phcwatch/pkg/pagination"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	return NewHandler(env.svc), env, echo.New()
}

func newRequest(method, body string, actor auth.Actor) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if actor.ID != "" {
		ctx := auth.WithUser(req.Context(), actor.ID, actor.Name, []string{actor.Role})
		req = req.WithContext(ctx)
	}
	return req
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_CreateVisit(t *testing.T) {
	h, env, e := newTestHandler()
	body := `{"patient_id":"` + env.patientID.String() + `","vitals":{"respiratory_rate":"24","spo2":96,"consciousness":"A"},"red_flags":["Convulsions"],"escalate":true}`
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, body, asha), rec)

	if err := h.CreateVisit(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var v Visit
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.Status != StatusPendingReview || v.RiskLevel != scoring.RiskRed || v.CreatedBy != asha.ID {
		t.Errorf("unexpected visit: status=%s risk=%s by=%s", v.Status, v.RiskLevel, v.CreatedBy)
	}
	if v.TotalScore != 2 {
		t.Errorf("expected total 2, got %d", v.TotalScore)
	}
}

func TestHandler_CreateVisit_BadRequest(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodPost, `{"vitals":{}}`, asha), httptest.NewRecorder())
	if code := httpCode(t, h.CreateVisit(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetVisit(t *testing.T) {
	h, env, e := newTestHandler()
	v := env.register(t, RegisterRequest{})

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "", doctor), rec)
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())
	if err := h.GetVisit(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"audit_trail"`) {
		t.Error("response should include the audit trail")
	}
}

func TestHandler_GetVisit_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodGet, "", doctor), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if code := httpCode(t, h.GetVisit(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_ReadsForbiddenToOtherFieldWorker(t *testing.T) {
	h, env, e := newTestHandler()
	v := env.register(t, RegisterRequest{})

	for name, fn := range map[string]echo.HandlerFunc{"visit": h.GetVisit, "audit": h.GetAuditTrail} {
		c := e.NewContext(newRequest(http.MethodGet, "", otherASHA), httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues(v.ID.String())
		if code := httpCode(t, fn(c)); code != http.StatusForbidden {
			t.Errorf("%s: expected 403, got %d", name, code)
		}
	}
}

func TestHandler_CreateVisit_StorageFailureIs500(t *testing.T) {
	h, env, e := newTestHandler()
	env.patients.err = errors.New("too many connections")
	body := `{"patient_id":"` + env.patientID.String() + `"}`
	c := e.NewContext(newRequest(http.MethodPost, body, asha), httptest.NewRecorder())
	if code := httpCode(t, h.CreateVisit(c)); code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", code)
	}
}

func TestHandler_CreateVisit_OtherFieldWorkersPatient(t *testing.T) {
	h, env, e := newTestHandler()
	body := `{"patient_id":"` + env.patientID.String() + `"}`
	c := e.NewContext(newRequest(http.MethodPost, body, otherASHA), httptest.NewRecorder())
	if code := httpCode(t, h.CreateVisit(c)); code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", code)
	}
}

func TestHandler_GetVisit_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodGet, "", doctor), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if code := httpCode(t, h.GetVisit(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_Decide(t *testing.T) {
	h, env, e := newTestHandler()
	v := env.register(t, RegisterRequest{Escalate: true})

	body := `{"decision":"approve_referral","note":"refer to district hospital","version":` + strconv.Itoa(v.Version) + `}`
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, body, doctor), rec)
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())
	if err := h.Decide(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Visit
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusReferralApproved {
		t.Errorf("expected Referral Approved, got %s", got.Status)
	}
}

func TestHandler_Decide_InvalidTransitionConflict(t *testing.T) {
	h, env, e := newTestHandler()
	v := env.register(t, RegisterRequest{})

	c := e.NewContext(newRequest(http.MethodPost, `{"decision":"monitor"}`, doctor), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())
	if code := httpCode(t, h.Decide(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_Decide_StaleVersionConflict(t *testing.T) {
	h, env, e := newTestHandler()
	v := env.register(t, RegisterRequest{Escalate: true})

	c := e.NewContext(newRequest(http.MethodPost, `{"decision":"mark_reviewed","version":1}`, doctor), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())
	if code := httpCode(t, h.Decide(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_Escalate_OtherFieldWorkerForbidden(t *testing.T) {
	h, env, e := newTestHandler()
	v := env.register(t, RegisterRequest{})

	c := e.NewContext(newRequest(http.MethodPost, `{}`, otherASHA), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())
	if code := httpCode(t, h.Escalate(c)); code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", code)
	}
}

func TestHandler_SetEmergency(t *testing.T) {
	h, env, e := newTestHandler()
	v := env.register(t, RegisterRequest{})

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPut, `{"emergency":true,"note":"seizure"}`, asha), rec)
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())
	if err := h.SetEmergency(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"emergency_flag":true`) {
		t.Errorf("expected emergency flag in response: %s", rec.Body.String())
	}
}

func TestHandler_ListVisits_ScopesFieldWorkers(t *testing.T) {
	h, env, e := newTestHandler()
	env.register(t, RegisterRequest{})
	other := RegisterRequest{PatientID: env.patientID}
	if _, err := env.svc.Register(context.Background(), &other, otherASHA); err != nil {
		t.Fatal(err)
	}

	// created_by in the query is overridden for field workers
	req := newRequest(http.MethodGet, "", asha)
	req.URL.RawQuery = "created_by=" + otherASHA.ID
	rec := httptest.NewRecorder()
	if err := h.ListVisits(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	var page struct {
		Data  []Visit `json:"data"`
		Total int     `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Data[0].CreatedBy != asha.ID {
		t.Errorf("field worker should only see own cases: %+v", page)
	}

	rec = httptest.NewRecorder()
	if err := h.ListVisits(e.NewContext(newRequest(http.MethodGet, "", doctor), rec)); err != nil {
		t.Fatal(err)
	}
	var all pagination.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatal(err)
	}
	if all.Total != 2 {
		t.Errorf("clinician should see all cases, got %d", all.Total)
	}
}

func TestHandler_ListVisits_InvalidStatus(t *testing.T) {
	h, _, e := newTestHandler()
	req := newRequest(http.MethodGet, "", doctor)
	req.URL.RawQuery = "status=archived"
	if code := httpCode(t, h.ListVisits(e.NewContext(req, httptest.NewRecorder()))); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_PreviewScore(t *testing.T) {
	h, env, e := newTestHandler()
	body := `{"vitals":{"respiratory_rate":26,"spo2":"91","temperature":39.5,"systolic_bp":95,"pulse_rate":135,"consciousness":"V"}}`
	rec := httptest.NewRecorder()
	if err := h.PreviewScore(e.NewContext(newRequest(http.MethodPost, body, asha), rec)); err != nil {
		t.Fatal(err)
	}
	var resp ScoreResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TotalScore != 16 || resp.RiskLevel != scoring.RiskRed || resp.IsPartial {
		t.Errorf("unexpected score: %+v", resp.Result)
	}
	if len(resp.Advice) == 0 {
		t.Error("expected advice")
	}
	if len(env.repo.visits) != 0 {
		t.Error("preview must not store a visit")
	}
}

func TestHandler_GetAdvice(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "", asha), rec)
	c.SetParamNames("risk")
	c.SetParamValues("yellow")
	if err := h.GetAdvice(c); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"risk_level":"Yellow"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}

	c = e.NewContext(newRequest(http.MethodGet, "", asha), httptest.NewRecorder())
	c.SetParamNames("risk")
	c.SetParamValues("blue")
	if code := httpCode(t, h.GetAdvice(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetFHIR(t *testing.T) {
	h, env, e := newTestHandler()
	v := env.register(t, RegisterRequest{Vitals: scoring.VitalReadings{PulseRate: ptrFloat(120)}})

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "", doctor), rec)
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())
	if err := h.GetFHIR(c); err != nil {
		t.Fatal(err)
	}
	var ra fhir.RiskAssessment
	if err := json.Unmarshal(rec.Body.Bytes(), &ra); err != nil {
		t.Fatal(err)
	}
	if ra.ResourceType != "RiskAssessment" || ra.ID != v.ID.String() {
		t.Errorf("unexpected resource: %s/%s", ra.ResourceType, ra.ID)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodGet, "", doctor), rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if err := h.GetFHIR(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "OperationOutcome") {
		t.Errorf("expected OperationOutcome 404, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"), e.Group("/fhir"))

	want := map[string]bool{
		"GET /api/v1/visits":                             false,
		"POST /api/v1/visits":                            false,
		"POST /api/v1/visits/:id/decision":               false,
		"POST /api/v1/visits/:id/escalate":               false,
		"POST /api/v1/visits/:id/clarification-response": false,
		"PUT /api/v1/visits/:id/emergency":               false,
		"GET /fhir/RiskAssessment/:id":                   false,
		"POST /api/v1/scores":                            false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}
