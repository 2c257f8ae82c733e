package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	allocationsapp "linkband-cloud/internal/allocations/application"
	allocations "linkband-cloud/internal/allocations/domain"
	"linkband-cloud/internal/audit"
	"linkband-cloud/internal/auth"
	organizations "linkband-cloud/internal/organizations/domain"
)

// Handler provides allocation HTTP endpoints.
type Handler struct {
	service     *allocationsapp.Service
	orgChecker  auth.OrganizationAccessChecker
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *allocationsapp.Service, orgChecker auth.OrganizationAccessChecker, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("allocations handler: nil service")
	}
	return &Handler{service: service, orgChecker: orgChecker, auditLogger: auditLogger}, nil
}

// ServeHTTP handles /api/v1/allocations and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/allocations":
		switch r.Method {
		case http.MethodPost:
			h.handleAllocate(w, r)
		case http.MethodGet:
			h.handleHistory(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/allocations/"):
		h.handleAllocation(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req allocationsapp.AllocationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	claimOrg := auth.OrganizationIDFromContext(r.Context())
	if claimOrg != "" && req.OrganizationID != "" && req.OrganizationID != claimOrg {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if claimOrg != "" {
		req.OrganizationID = claimOrg
	}
	if err := ensureOrganizationAccess(r, h.orgChecker, req.OrganizationID); err != nil {
		respondOrganizationError(w, err)
		return
	}

	allocation, err := h.service.Allocate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, organizations.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, allocations.ErrDeviceAlreadyAllocated),
			errors.Is(err, allocations.ErrDeviceNotAvailable):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(allocation)

	h.logAudit(r, "allocation.create", allocation.ID, allocation.DeviceID)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	list, err := h.service.History(r.Context(), deviceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleAllocation(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/allocations/")
	parts := strings.Split(path, "/")

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGet(w, r, parts[0])
		return
	}
	if len(parts) != 2 || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	id := parts[0]
	switch parts[1] {
	case "assign":
		h.handleAssign(w, r, id)
	case "terminate":
		h.handleTerminate(w, r, id)
	case "replace":
		h.handleReplace(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	allocation, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, allocations.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.ensureAllocationScope(r, allocation.OrganizationID); err != nil {
		respondOrganizationError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(allocation)
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		UserID   string `json:"user_id"`
		UserName string `json:"user_name"`
		Location string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := h.service.AssignUser(r.Context(), id, req.UserID, req.UserName, req.Location); err != nil {
		respondAllocationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)

	h.logAudit(r, "allocation.assign", id, "")
}

func (h *Handler) handleTerminate(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := h.service.Terminate(r.Context(), id, req.Reason); err != nil {
		respondAllocationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)

	h.logAudit(r, "allocation.terminate", id, "")
}

func (h *Handler) handleReplace(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		ReplacementDeviceID string `json:"replacement_device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	next, err := h.service.Replace(r.Context(), id, req.ReplacementDeviceID)
	if err != nil {
		respondAllocationError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(next)

	h.logAudit(r, "allocation.replace", next.ID, next.DeviceID)
}

func (h *Handler) ensureAllocationScope(r *http.Request, organizationID string) error {
	claimOrg := auth.OrganizationIDFromContext(r.Context())
	if claimOrg != "" && organizationID != claimOrg {
		return auth.ErrOrganizationMismatch
	}
	return nil
}

func (h *Handler) logAudit(r *http.Request, action, resourceID, deviceID string) {
	if h.auditLogger == nil {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		OrganizationID: auth.OrganizationIDFromContext(r.Context()),
		Actor:          auth.SubjectFromContext(r.Context()),
		Role:           string(auth.RoleFromContext(r.Context())),
		Action:         action,
		ResourceType:   "allocation",
		ResourceID:     resourceID,
		DeviceID:       deviceID,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
	})
}

func respondAllocationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, allocations.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, allocations.ErrAlreadyEnded),
		errors.Is(err, allocations.ErrNotAssignable),
		errors.Is(err, allocations.ErrDeviceNotAvailable),
		errors.Is(err, allocations.ErrDeviceAlreadyAllocated):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func ensureOrganizationAccess(r *http.Request, checker auth.OrganizationAccessChecker, organizationID string) error {
	if checker == nil || organizationID == "" {
		return nil
	}
	return checker.EnsureOrganizationAccess(r.Context(), organizationID)
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
