package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Hybrid-Cloud/conveyor/lifecycle"
	"github.com/Hybrid-Cloud/conveyor/mutation"
	"github.com/Hybrid-Cloud/conveyor/plan"
	"github.com/Hybrid-Cloud/conveyor/planlock"
	"github.com/Hybrid-Cloud/conveyor/planstore"
)

func newTestHandler(t *testing.T) (*Handler, planstore.Store) {
	t.Helper()
	store := planstore.NewInMemoryStore()
	locks := planlock.New()
	mgr := lifecycle.NewManager(store, locks, mutation.NewEngine(nil, nil), time.Hour, nil)
	return NewHandler(mgr, nil, store, nil), store
}

func doRequest(mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndShowPlan(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := doRequest(mux, "POST", "/v1/plans", createPlanRequest{PlanType: plan.TypeClone, ProjectID: "proj-1", UserID: "user-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created plan.Plan
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.PlanStatus != plan.StatusCreating {
		t.Fatalf("expected CREATING, got %q", created.PlanStatus)
	}

	rec = doRequest(mux, "GET", "/v1/plans/"+created.PlanID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestShowPlanNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := doRequest(mux, "GET", "/v1/plans/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdatePlanRejectsUnknownField(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := doRequest(mux, "POST", "/v1/plans", createPlanRequest{PlanType: plan.TypeClone, ProjectID: "p", UserID: "u"})
	var created plan.Plan
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	rec = doRequest(mux, "PATCH", "/v1/plans/"+created.PlanID, map[string]any{"plan_id": "not-allowed"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDownloadTemplateNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := doRequest(mux, "GET", "/v1/plans/missing/download_template", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}
