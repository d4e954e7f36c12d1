package pagerequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/dharsanguruparan/indexqueue/internal/metrics"
	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/signing"
)

// RenderContext is everything an action may know about the page being
// rendered. It is built from the request alone.
type RenderContext struct {
	Request        *Request
	PageID         int
	Language       int
	MountPoint     string
	RootPageID     int
	AccessRootline model.AccessRootline
	// UserGroups are the frontend groups the simulated user is a member of.
	UserGroups []int
}

// Action executes one named step of a render request.
type Action interface {
	Execute(ctx context.Context, rc *RenderContext) (any, error)
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, rc *RenderContext) (any, error)

// Execute implements Action.
func (f ActionFunc) Execute(ctx context.Context, rc *RenderContext) (any, error) {
	return f(ctx, rc)
}

// Handler is the render endpoint. Requests are rejected before any action
// runs unless their hash validates and their timestamp is within window.
type Handler struct {
	signer  *signing.Signer
	window  time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	actions map[string]Action
}

// NewHandler makes a Handler accepting requests signed by signer.
func NewHandler(signer *signing.Signer, window time.Duration) *Handler {
	return &Handler{
		signer:  signer,
		window:  window,
		now:     time.Now,
		actions: make(map[string]Action),
	}
}

// Register adds an action.
func (h *Handler) Register(name string, a Action) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions[name] = a
}

func (h *Handler) reject(w http.ResponseWriter, status int, reason, msg string) {
	metrics.PageRequestsRejectedTotal.WithLabelValues(reason).Inc()
	log.Printf("[WARN] page request rejected, %s: %s", reason, msg)
	http.Error(w, msg, status)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get(HeaderName)
	if raw == "" {
		h.reject(w, http.StatusBadRequest, "missing_header", "not an index queue request")
		return
	}
	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		h.reject(w, http.StatusBadRequest, "malformed", fmt.Sprintf("malformed request: %v", err))
		return
	}
	if !req.Verify(h.signer) {
		h.reject(w, http.StatusForbidden, "hash", "invalid request hash")
		return
	}
	age := h.now().Sub(time.Unix(req.Timestamp, 0))
	if age > h.window || age < -h.window {
		h.reject(w, http.StatusForbidden, "expired", "request timestamp outside of window")
		return
	}
	if id := r.URL.Query().Get("id"); id != "" && id != strconv.Itoa(req.PageID) {
		h.reject(w, http.StatusBadRequest, "page_mismatch", "requested page does not match signed page")
		return
	}
	rc, err := newRenderContext(&req)
	if err != nil {
		h.reject(w, http.StatusBadRequest, "malformed", err.Error())
		return
	}

	actions := make([]Action, len(req.Actions))
	h.mu.RLock()
	for i, name := range req.Actions {
		a, ok := h.actions[name]
		if !ok {
			h.mu.RUnlock()
			h.reject(w, http.StatusBadRequest, "unknown_action", fmt.Sprintf("unknown action %q", name))
			return
		}
		actions[i] = a
	}
	h.mu.RUnlock()

	results := make(map[string]any, len(actions))
	for i, a := range actions {
		res, err := a.Execute(r.Context(), rc)
		if err != nil {
			log.Printf("[ERROR] page %d action %s: %v", req.PageID, req.Actions[i], err)
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"requestId": req.RequestID,
				"error":     err.Error(),
			})
			return
		}
		results[req.Actions[i]] = res
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"requestId":     req.RequestID,
		"actionResults": results,
	})
}

func newRenderContext(req *Request) (*RenderContext, error) {
	access, err := model.ParseAccessRootline(req.Param(ParamAccessRootline))
	if err != nil {
		return nil, err
	}
	rc := &RenderContext{
		Request:        req,
		PageID:         req.PageID,
		Language:       req.Language,
		MountPoint:     req.Param(ParamMountPoint),
		AccessRootline: access,
	}
	if v := req.Param(ParamRootPageID); v != "" {
		if rc.RootPageID, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("rootPageId %q: %w", v, err)
		}
	}
	seen := make(map[int]bool)
	for _, e := range access {
		for _, g := range e.Groups {
			if !seen[g] {
				seen[g] = true
				rc.UserGroups = append(rc.UserGroups, g)
			}
		}
	}
	return rc, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		log.Printf("[WARN] write page response: %v", err)
	}
}
