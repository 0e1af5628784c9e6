// internal/api/handlers.go
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"graft/internal/errors"
	"graft/internal/logging"
	"graft/internal/middleware"
	"graft/internal/repo"
	shared "graft/shared/types"

	"go.uber.org/zap"
)

// RefsResponse is the advertisement served to fetch peers: every branch
// tip plus the resolved HEAD. Head is empty for an unborn repository.
type RefsResponse struct {
	Branches map[string]string `json:"branches"`
	Head     string            `json:"head,omitempty"`
}

type Handler struct {
	repo   repo.Repository
	logger *logging.Logger
}

func NewHandler(r repo.Repository, logger *logging.Logger) *Handler {
	return &Handler{repo: r, logger: logger}
}

// NewRouter wires the handler routes behind the standard middleware
// chain.
func NewRouter(r repo.Repository, logger *logging.Logger) http.Handler {
	h := NewHandler(r, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/refs", h.Refs)
	mux.HandleFunc("/api/commits/", h.Commit)
	mux.HandleFunc("/health", h.Health)

	return middleware.Chain(mux,
		middleware.Recover(logger),
		middleware.Logger(logger),
		middleware.RequestID,
	)
}

// Refs advertises all branch tips and HEAD.
func (h *Handler) Refs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names, err := h.repo.ListBranches()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := RefsResponse{Branches: make(map[string]string, len(names))}
	for _, name := range names {
		tip, err := h.repo.LocateBranch(name)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp.Branches[name] = tip.Hex()
	}

	head, err := h.repo.GetHead()
	switch {
	case err == nil:
		resp.Head = head.Hex()
	case errors.IsKind(err, errors.KindInvalidRepository):
		// Unborn HEAD: advertise branches only.
	default:
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Commit serves one commit node by hash.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hexForm := strings.TrimPrefix(r.URL.Path, "/api/commits/")
	hash, err := shared.ParseCommitHash(hexForm)
	if err != nil {
		http.Error(w, "invalid commit hash", http.StatusBadRequest)
		return
	}

	commit, err := h.repo.GetCommit(hash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commit)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		status = http.StatusNotFound
	case errors.KindAlreadyExists:
		status = http.StatusConflict
	case errors.KindInvalidRepository:
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		h.logger.WithRequestID(r.Context()).Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
