package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"linkband-cloud/internal/audit"
	"linkband-cloud/internal/auth"
	devicesapp "linkband-cloud/internal/devices/application"
	devices "linkband-cloud/internal/devices/domain"
)

// Handler provides device master HTTP endpoints.
type Handler struct {
	service     *devicesapp.Service
	orgChecker  auth.OrganizationAccessChecker
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *devicesapp.Service, orgChecker auth.OrganizationAccessChecker, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("devices handler: nil service")
	}
	return &Handler{service: service, orgChecker: orgChecker, auditLogger: auditLogger}, nil
}

// ServeHTTP handles /api/v1/devices and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/devices":
		switch r.Method {
		case http.MethodPost:
			h.handleRegister(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/devices/"):
		h.handleDevice(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req devicesapp.RegisterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	device, err := h.service.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, devices.ErrAlreadyRegistered) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(device)

	h.logAudit(r, "device.register", device.ID, device.ID)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := devices.ListFilter{
		Status:     devices.Status(r.URL.Query().Get("status")),
		DeviceType: r.URL.Query().Get("device_type"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, devices.ErrInvalidStatus) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleDevice(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGet(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "health":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleHealth(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	device, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(device)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request, id string) {
	var update devicesapp.HealthUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	organizationID := auth.OrganizationIDFromContext(r.Context())
	if err := ensureOrganizationAccess(r, h.orgChecker, organizationID); err != nil {
		respondOrganizationError(w, err)
		return
	}

	if err := h.service.UpdateHealth(r.Context(), id, organizationID, update); err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)

	h.logAudit(r, "device.health_update", id, id)
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
		ResourceType:   "device",
		ResourceID:     resourceID,
		DeviceID:       deviceID,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
	})
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
