package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"linkband-cloud/internal/audit"
	"linkband-cloud/internal/auth"
	servicingapp "linkband-cloud/internal/servicing/application"
	servicing "linkband-cloud/internal/servicing/domain"
	servicingexport "linkband-cloud/internal/servicing/interfaces"
)

// Handler provides A/S request HTTP endpoints.
type Handler struct {
	service     *servicingapp.Service
	orgChecker  auth.OrganizationAccessChecker
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *servicingapp.Service, orgChecker auth.OrganizationAccessChecker, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("servicing handler: nil service")
	}
	return &Handler{service: service, orgChecker: orgChecker, auditLogger: auditLogger}, nil
}

// ServeHTTP handles /api/v1/service-requests and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/service-requests":
		switch r.Method {
		case http.MethodPost:
			h.handleCreate(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	case r.URL.Path == "/api/v1/service-requests/reports/export.pdf":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, r)
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/service-requests/"):
		h.handleRequest(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req servicingapp.CreateRequest
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
	if req.RequestedBy == "" {
		req.RequestedBy = auth.SubjectFromContext(r.Context())
	}
	if err := ensureOrganizationAccess(r, h.orgChecker, req.OrganizationID); err != nil {
		respondOrganizationError(w, err)
		return
	}

	request, err := h.service.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, servicing.ErrNoActiveAllocation) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(request)

	h.logAudit(r, "service_request.create", request.ID, request.DeviceID)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := servicing.ListFilter{
		OrganizationID: r.URL.Query().Get("organization_id"),
		DeviceID:       r.URL.Query().Get("device_id"),
		Status:         servicing.Status(r.URL.Query().Get("status")),
		OpenOnly:       r.URL.Query().Get("open") == "true",
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	if claimOrg := auth.OrganizationIDFromContext(r.Context()); claimOrg != "" {
		if filter.OrganizationID != "" && filter.OrganizationID != claimOrg {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		filter.OrganizationID = claimOrg
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	organizationID := r.URL.Query().Get("organization_id")
	if claimOrg := auth.OrganizationIDFromContext(r.Context()); claimOrg != "" {
		if organizationID != "" && organizationID != claimOrg {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		organizationID = claimOrg
	}
	if organizationID == "" {
		http.Error(w, "organization_id is required", http.StatusBadRequest)
		return
	}
	if err := ensureOrganizationAccess(r, h.orgChecker, organizationID); err != nil {
		respondOrganizationError(w, err)
		return
	}

	list, err := h.service.List(r.Context(), servicing.ListFilter{OrganizationID: organizationID})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := servicingexport.BuildServiceReportPDF(organizationID, list, time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="service-report-`+organizationID+`.pdf"`)
	_, _ = w.Write(data)
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/service-requests/")
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
	case "status":
		h.handleStatus(w, r, id)
	case "approve-cost":
		h.handleApproveCost(w, r, id)
	case "complete":
		h.handleComplete(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	request, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, servicing.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if claimOrg := auth.OrganizationIDFromContext(r.Context()); claimOrg != "" && request.OrganizationID != claimOrg {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(request)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, id string) {
	var update servicingapp.StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if update.Actor == "" {
		update.Actor = auth.SubjectFromContext(r.Context())
	}

	request, err := h.service.UpdateStatus(r.Context(), id, update)
	if err != nil {
		respondRequestError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(request)

	h.logAudit(r, "service_request.status", id, request.DeviceID)
}

func (h *Handler) handleApproveCost(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Approved bool `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	request, err := h.service.ApproveCost(r.Context(), id, req.Approved)
	if err != nil {
		respondRequestError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(request)

	h.logAudit(r, "service_request.approve_cost", id, request.DeviceID)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		ResolutionSummary   string  `json:"resolution_summary"`
		ReplacementDeviceID string  `json:"replacement_device_id"`
		ActualCost          float64 `json:"actual_cost"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	request, err := h.service.Complete(r.Context(), id, req.ResolutionSummary, req.ReplacementDeviceID, req.ActualCost)
	if err != nil {
		respondRequestError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(request)

	h.logAudit(r, "service_request.complete", id, request.DeviceID)
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
		ResourceType:   "service_request",
		ResourceID:     resourceID,
		DeviceID:       deviceID,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
	})
}

func respondRequestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, servicing.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, servicing.ErrAlreadyClosed),
		errors.Is(err, servicing.ErrInvalidStatusTransition),
		errors.Is(err, servicing.ErrCostNotApprovable):
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
