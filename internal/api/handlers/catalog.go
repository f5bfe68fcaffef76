package handlers

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/eventboard/server/internal/api/problem"
	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/sanitize"
)

// Event is the listing shape of the events catalog.
type Event struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// CatalogHandler serves the business endpoints that sit behind the gate.
// Events are kept in memory; only their access rules matter here.
type CatalogHandler struct {
	Env string

	mu     sync.RWMutex
	events []Event
}

func NewCatalogHandler(env string) *CatalogHandler {
	return &CatalogHandler{Env: env}
}

func (h *CatalogHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	items := make([]Event, len(h.events))
	copy(items, h.events)
	h.mu.RUnlock()

	writeJSON(w, http.StatusOK, listResponse[Event]{Items: items}, contentTypeJSON)
}

var errNameRequired = errors.New("event name is required")

type createEventRequest struct {
	Name string `json:"name"`
}

// CreateEvent is reachable only with ROLE_ADMIN; the router's policy enforces it.
func (h *CatalogHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decodeJSON(r, &req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}
	name := strings.TrimSpace(sanitize.Text(req.Name))
	if name == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid input", errNameRequired, h.Env,
			problem.WithDetail("name is required"),
			problem.WithErrors(map[string]interface{}{"name": "required"}))
		return
	}

	createdBy := ""
	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		createdBy = p.Subject
	}

	h.mu.Lock()
	event := Event{ID: len(h.events) + 1, Name: name, CreatedBy: createdBy, CreatedAt: time.Now().UTC()}
	h.events = append(h.events, event)
	h.mu.Unlock()

	writeJSON(w, http.StatusCreated, event, contentTypeJSON)
}

func (h *CatalogHandler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listResponse[struct{}]{Items: []struct{}{}}, contentTypeJSON)
}

type uploadResponse struct {
	Principal string   `json:"principal"`
	Anonymous bool     `json:"anonymous"`
	Roles     []string `json:"roles"`
}

// Upload echoes the principal the gate assigned. Upload routes always run as
// the anonymous principal.
func (h *CatalogHandler) Upload(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		p = auth.AnonymousPrincipal()
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Principal: p.Subject,
		Anonymous: p.Anonymous,
		Roles:     auth.RoleStrings(p.Roles),
	}, contentTypeJSON)
}
