package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"linkband-cloud/internal/auth"
	orgviewapp "linkband-cloud/internal/orgview/application"
	orgview "linkband-cloud/internal/orgview/domain"
	orgviewexport "linkband-cloud/internal/orgview/interfaces"
)

// Handler provides dashboard and view sync HTTP endpoints.
type Handler struct {
	dashboards *orgviewapp.DashboardService
	sync       *orgviewapp.SyncService
	orgChecker auth.OrganizationAccessChecker
}

// NewHandler constructs a handler.
func NewHandler(dashboards *orgviewapp.DashboardService, sync *orgviewapp.SyncService, orgChecker auth.OrganizationAccessChecker) (*Handler, error) {
	if dashboards == nil {
		return nil, errors.New("orgview handler: nil dashboard service")
	}
	if sync == nil {
		return nil, errors.New("orgview handler: nil sync service")
	}
	return &Handler{dashboards: dashboards, sync: sync, orgChecker: orgChecker}, nil
}

// ServeHTTP handles /api/v1/dashboard, subroutes and /api/v1/views/sync.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/dashboard":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleDashboard(w, r)
	case "/api/v1/dashboard/devices":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleDevices(w, r)
	case "/api/v1/dashboard/export.xlsx":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, r)
	case "/api/v1/views/sync":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleSync(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) resolveOrganization(w http.ResponseWriter, r *http.Request) (string, bool) {
	organizationID := r.URL.Query().Get("organization_id")
	if claimOrg := auth.OrganizationIDFromContext(r.Context()); claimOrg != "" {
		if organizationID != "" && organizationID != claimOrg {
			http.Error(w, "forbidden", http.StatusForbidden)
			return "", false
		}
		organizationID = claimOrg
	}
	if organizationID == "" {
		http.Error(w, "organization_id is required", http.StatusBadRequest)
		return "", false
	}
	if h.orgChecker != nil {
		if err := h.orgChecker.EnsureOrganizationAccess(r.Context(), organizationID); err != nil {
			respondOrganizationError(w, err)
			return "", false
		}
	}
	return organizationID, true
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := h.resolveOrganization(w, r)
	if !ok {
		return
	}
	dashboard, err := h.dashboards.GetDashboard(r.Context(), organizationID)
	if err != nil {
		if errors.Is(err, orgview.ErrEmptyOrganization) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(dashboard)
}

func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := h.resolveOrganization(w, r)
	if !ok {
		return
	}
	views, err := h.dashboards.ListDevices(r.Context(), organizationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := h.resolveOrganization(w, r)
	if !ok {
		return
	}
	views, err := h.dashboards.ListDevices(r.Context(), organizationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := orgviewexport.BuildInventoryXLSX(organizationID, views, time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="inventory-`+organizationID+`.xlsx"`)
	_, _ = w.Write(data)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	organizationID := r.URL.Query().Get("organization_id")
	if organizationID == "" {
		result, err := h.sync.SyncAll(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{
			"synced_organizations": result.SyncedViews,
			"errors":               len(result.Errors),
		})
		return
	}

	if err := h.sync.SyncOrganizationView(r.Context(), organizationID); err != nil {
		if errors.Is(err, orgview.ErrDataInconsistency) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.dashboards.Invalidate(r.Context(), organizationID)
	w.WriteHeader(http.StatusNoContent)
}

func respondOrganizationError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, auth.ErrOrganizationMismatch) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if errors.Is(err, auth.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, "organization check failed", http.StatusInternalServerError)
}
