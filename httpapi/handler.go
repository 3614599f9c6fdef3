// Package httpapi provides the thin HTTP surface over the Plan Lifecycle
// Manager and the Clone/Migrate Orchestrator (spec.md §6 "HTTP surface").
// Grounded on webhook.Handler's RegisterRoutes/http.ServeMux pattern
// routing and writeJSON helper, generalized from a dead-letter dashboard to
// the plan engine's CRUD-plus-action-sub-resource shape.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Hybrid-Cloud/conveyor/conveyorerr"
	"github.com/Hybrid-Cloud/conveyor/lifecycle"
	"github.com/Hybrid-Cloud/conveyor/mutation"
	"github.com/Hybrid-Cloud/conveyor/orchestrator"
	"github.com/Hybrid-Cloud/conveyor/plan"
	"github.com/Hybrid-Cloud/conveyor/planstore"
	"github.com/Hybrid-Cloud/conveyor/template"
)

// Handler dispatches plan CRUD to the lifecycle manager and clone/migrate
// execution to the orchestrator (spec.md §6).
type Handler struct {
	manager      *lifecycle.Manager
	orchestrator *orchestrator.Orchestrator
	store        planstore.Store
	logger       *slog.Logger
}

// NewHandler builds a Handler. A nil logger defaults to slog.Default(),
// matching the rest of the engine's constructor convention.
func NewHandler(manager *lifecycle.Manager, orch *orchestrator.Orchestrator, store planstore.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{manager: manager, orchestrator: orch, store: store, logger: logger}
}

// RegisterRoutes registers every plan-engine HTTP route on mux (spec.md §6).
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/plans", h.createPlan)
	mux.HandleFunc("GET /v1/plans", h.listPlans)
	mux.HandleFunc("GET /v1/plans/{id}", h.showPlan)
	mux.HandleFunc("DELETE /v1/plans/{id}", h.deletePlan)
	mux.HandleFunc("POST /v1/plans/{id}/force-delete", h.forceDeletePlan)
	mux.HandleFunc("PATCH /v1/plans/{id}", h.updatePlan)
	mux.HandleFunc("POST /v1/plans/{id}/resources", h.updateResources)
	mux.HandleFunc("POST /v1/plans/{id}/import-template", h.importTemplate)
	mux.HandleFunc("POST /v1/plans/{id}/action", h.action)

	mux.HandleFunc("POST /v1/plans/{id}/export_clone_template", h.exportTemplate(plan.TypeClone))
	mux.HandleFunc("POST /v1/plans/{id}/export_migrate_template", h.exportTemplate(plan.TypeMigrate))
	mux.HandleFunc("POST /v1/plans/{id}/export_template_and_clone", h.exportAndClone)
	mux.HandleFunc("POST /v1/plans/{id}/clone", h.clone)
	mux.HandleFunc("POST /v1/plans/{id}/migrate", h.migrate)
	mux.HandleFunc("GET /v1/plans/{id}/download_template", h.downloadTemplate)
}

type createPlanRequest struct {
	PlanType  plan.Type `json:"plan_type"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
}

func (h *Handler) createPlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.manager.Create(r.Context(), req.PlanType, req.ProjectID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.manager.List(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (h *Handler) showPlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.manager.Read(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) deletePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) forceDeletePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.ForceDelete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) updatePlan(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if !decodeJSON(w, r, &fields) {
		return
	}
	p, err := h.manager.Update(r.Context(), r.PathValue("id"), fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) updateResources(w http.ResponseWriter, r *http.Request) {
	var edits []mutation.Edit
	if !decodeJSON(w, r, &edits) {
		return
	}
	p, err := h.manager.UpdateResources(r.Context(), r.PathValue("id"), edits)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) importTemplate(w http.ResponseWriter, r *http.Request) {
	var tmpl template.Template
	if !decodeJSON(w, r, &tmpl) {
		return
	}
	p, err := h.manager.ImportFromTemplate(r.Context(), r.PathValue("id"), &tmpl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// action dispatches the plan action sub-resource (spec.md §6: "`action`
// sub-resource accepts `{download_template}`, `{os-reset_state:
// {plan_status}}`, `{plan-delete-resource}`"). download_template here is a
// synonym for the dedicated GET endpoint; os-reset_state sets plan_status
// through the lifecycle manager's Update, so only legal status transitions
// are accepted; plan-delete-resource removes one resource from
// updated_resources via the mutation engine's delete edit, which refuses a
// resource that is still referenced and collects dependencies left orphaned.
func (h *Handler) action(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if !decodeJSON(w, r, &body) {
		return
	}
	planID := r.PathValue("id")

	if _, ok := body["download_template"]; ok {
		h.downloadTemplate(w, r)
		return
	}
	if raw, ok := body["os-reset_state"]; ok {
		var reset struct {
			PlanStatus string `json:"plan_status"`
		}
		if err := json.Unmarshal(raw, &reset); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid os-reset_state body"})
			return
		}
		p, err := h.manager.Update(r.Context(), planID, map[string]any{"plan_status": reset.PlanStatus})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}
	if raw, ok := body["plan-delete-resource"]; ok {
		var del struct {
			ResourceName string `json:"resource_name"`
		}
		if err := json.Unmarshal(raw, &del); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid plan-delete-resource body"})
			return
		}
		p, err := h.manager.UpdateResources(r.Context(), planID, []mutation.Edit{{Action: mutation.ActionDelete, ResourceName: del.ResourceName}})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unrecognized action"})
}

type destinationRequest struct {
	Destination         string          `json:"destination"`
	PreexistingNetworks map[string]bool `json:"preexisting_networks,omitempty"`
}

// exportTemplate shapes (but does not submit) the template an eventual
// clone/migrate of this plan would deploy, and stores it for
// download_template (spec.md §6 "export_clone_template", "export_migrate_template").
func (h *Handler) exportTemplate(planType plan.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req destinationRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		planID := r.PathValue("id")
		go h.runExport(planID, planType, req)
		writeJSON(w, http.StatusAccepted, map[string]string{"plan_id": planID, "status": "accepted"})
	}
}

func (h *Handler) runExport(planID string, planType plan.Type, req destinationRequest) {
	p, err := h.manager.Read(context.Background(), planID)
	if err != nil {
		h.logger.Warn("export template: plan not found", "plan_id", planID, "error", err)
		return
	}
	if p.PlanType != planType {
		h.logger.Warn("export template: plan type mismatch", "plan_id", planID, "want", planType, "got", p.PlanType)
		return
	}
	tmpl, err := template.Shape(p.UpdatedResources, template.ExportOptions{
		Destination:         req.Destination,
		PreexistingNetworks: req.PreexistingNetworks,
		DisableRollback:     true,
	})
	if err != nil {
		h.logger.Warn("export template failed", "plan_id", planID, "error", &conveyorerr.ExportTemplateFailedError{PlanID: planID, Cause: err})
		return
	}
	data, err := json.Marshal(tmpl)
	if err != nil {
		h.logger.Warn("export template: marshal failed", "plan_id", planID, "error", err)
		return
	}
	var asMap map[string]any
	if err := json.Unmarshal(data, &asMap); err != nil {
		h.logger.Warn("export template: remarshal failed", "plan_id", planID, "error", err)
		return
	}
	if err := h.store.SaveTemplate(context.Background(), planID, asMap); err != nil {
		h.logger.Warn("export template: save failed", "plan_id", planID, "error", err)
	}
}

// exportAndClone shapes and stores the template, then immediately clones
// (spec.md §6 "export_template_and_clone").
func (h *Handler) exportAndClone(w http.ResponseWriter, r *http.Request) {
	var req destinationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	planID := r.PathValue("id")
	go func() {
		h.runExport(planID, plan.TypeClone, req)
		if err := h.orchestrator.Clone(context.Background(), planID, req.Destination, req.PreexistingNetworks); err != nil {
			h.logger.Warn("export_template_and_clone: clone failed", "plan_id", planID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"plan_id": planID, "status": "accepted"})
}

func (h *Handler) clone(w http.ResponseWriter, r *http.Request) {
	var req destinationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	planID := r.PathValue("id")
	go func() {
		if err := h.orchestrator.Clone(context.Background(), planID, req.Destination, req.PreexistingNetworks); err != nil {
			h.logger.Warn("clone failed", "plan_id", planID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"plan_id": planID, "status": "accepted"})
}

func (h *Handler) migrate(w http.ResponseWriter, r *http.Request) {
	var req destinationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	planID := r.PathValue("id")
	go func() {
		if err := h.orchestrator.Migrate(context.Background(), planID, req.Destination, req.PreexistingNetworks); err != nil {
			h.logger.Warn("migrate failed", "plan_id", planID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"plan_id": planID, "status": "accepted"})
}

func (h *Handler) downloadTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := h.store.GetTemplate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, &conveyorerr.DownloadTemplateFailedError{PlanID: r.PathValue("id"), Cause: err})
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the conveyorerr taxonomy onto HTTP status codes (spec.md
// §7 "validation errors surface synchronously to the caller").
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, new(*conveyorerr.PlanNotFoundError)), errors.As(err, new(*conveyorerr.ResourceNotFoundError)), errors.As(err, new(*conveyorerr.AvailabilityZoneNotFoundError)), errors.Is(err, planstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, new(*conveyorerr.PlanTypeNotSupportedError)),
		errors.As(err, new(*conveyorerr.PlanUpdateError)),
		errors.As(err, new(*conveyorerr.PlanResourcesUpdateError)),
		errors.As(err, new(*conveyorerr.NoMigrateNetProvidedError)):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
