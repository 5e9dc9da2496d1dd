package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/Strob0t/GuildMirror/internal/domain/mirror"
	"github.com/Strob0t/GuildMirror/internal/service"
)

// Handlers bundles the services exposed over the admin API.
type Handlers struct {
	Mirror    *service.MirrorService
	Reconcile *service.ReconcileService
}

// --- Candidates ---

func (h *Handlers) ListCandidates(w http.ResponseWriter, r *http.Request) {
	guildID, ok := urlParamInt64(w, r, "guildID")
	if !ok {
		return
	}

	candidates, err := h.Mirror.ListCandidates(r.Context(), guildID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if candidates == nil {
		candidates = []mirror.Candidate{}
	}
	writeJSON(w, http.StatusOK, candidates)
}

func (h *Handlers) RegisterCandidate(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[mirror.CreateCandidateRequest](w, r)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.Mirror.RegisterCandidate(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handlers) UnregisterCandidate(w http.ResponseWriter, r *http.Request) {
	if err := h.Mirror.UnregisterCandidate(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Mappings ---

func (h *Handlers) ListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.Mirror.ListMappings(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if mappings == nil {
		mappings = []mirror.MappingDetail{}
	}
	writeJSON(w, http.StatusOK, mappings)
}

func (h *Handlers) RegisterMapping(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[mirror.CreateMappingRequest](w, r)
	if !ok {
		return
	}
	if _, err := mirror.ParseSyncMode(req.Mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.Mirror.RegisterMapping(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handlers) GetMapping(w http.ResponseWriter, r *http.Request) {
	m, err := h.Mirror.GetMapping(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handlers) UnregisterMapping(w http.ResponseWriter, r *http.Request) {
	if err := h.Mirror.UnregisterMapping(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Reconciliation ---

type reconcileRequest struct {
	GuildIDs []int64 `json:"guild_ids"`
}

// TriggerReconcile runs one on-demand pass synchronously and returns its
// summary. A pass already in progress yields 409; the periodic timer will
// cover the requested guilds on its next tick anyway.
func (h *Handlers) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[reconcileRequest](w, r)
	if !ok {
		return
	}

	// Detach from the request context: an admin closing the connection
	// should not abort a running pass halfway through.
	result, err := h.Reconcile.ReconcileNow(context.WithoutCancel(r.Context()), req.GuildIDs)
	if err != nil {
		if errors.Is(err, service.ErrPassInProgress) {
			writeError(w, http.StatusConflict, service.ErrPassInProgress.Error())
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
