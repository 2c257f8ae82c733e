package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"linkband-cloud/internal/audit"
	"linkband-cloud/internal/auth"
	organizationsapp "linkband-cloud/internal/organizations/application"
	organizations "linkband-cloud/internal/organizations/domain"
)

// Handler provides organization directory HTTP endpoints.
type Handler struct {
	service     *organizationsapp.Service
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *organizationsapp.Service, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("organizations handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles /api/v1/organizations and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/organizations":
		switch r.Method {
		case http.MethodPost:
			h.handleCreate(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/organizations/"):
		h.handleOrganization(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req organizationsapp.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	org, err := h.service.Create(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(org)

	h.logAudit(r, "organization.create", org.ID)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if claimOrg := auth.OrganizationIDFromContext(r.Context()); claimOrg != "" {
		// Organization users only see themselves.
		org, err := h.service.Get(r.Context(), claimOrg)
		if err != nil {
			if errors.Is(err, organizations.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]organizations.Organization{*org})
		return
	}

	list, err := h.service.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleOrganization(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/organizations/")
	parts := strings.Split(path, "/")

	if claimOrg := auth.OrganizationIDFromContext(r.Context()); claimOrg != "" && parts[0] != claimOrg {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, r, parts[0])
		case http.MethodPut:
			h.handleUpdate(w, r, parts[0])
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}
	if len(parts) != 2 || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	id := parts[0]
	var (
		org *organizations.Organization
		err error
	)
	switch parts[1] {
	case "suspend":
		org, err = h.service.Suspend(r.Context(), id)
	case "activate":
		org, err = h.service.Activate(r.Context(), id)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		if errors.Is(err, organizations.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(org)

	h.logAudit(r, "organization."+parts[1], id)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	org, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, organizations.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(org)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var req organizationsapp.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	org, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		if errors.Is(err, organizations.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(org)

	h.logAudit(r, "organization.update", id)
}

func (h *Handler) logAudit(r *http.Request, action, resourceID string) {
	if h.auditLogger == nil {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		OrganizationID: auth.OrganizationIDFromContext(r.Context()),
		Actor:          auth.SubjectFromContext(r.Context()),
		Role:           string(auth.RoleFromContext(r.Context())),
		Action:         action,
		ResourceType:   "organization",
		ResourceID:     resourceID,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
	})
}
