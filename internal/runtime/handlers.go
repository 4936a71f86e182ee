package runtime

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/core/ports"
	"github.com/tjfontaine/pipeline-gateway/internal/server"
)

// mountList is the body of GET /.
type mountList struct {
	Mounts []domain.MountInfo `json:"mounts"`
}

type invocationList struct {
	Invocations []*domain.InvocationRecord `json:"invocations"`
}

func (g *Gateway) handleListMounts(w http.ResponseWriter, r *http.Request) {
	mounts := g.registry.Mounts()
	infos := make([]domain.MountInfo, len(mounts))
	for i, m := range mounts {
		infos[i] = m.Info()
	}
	server.WriteJSON(w, http.StatusOK, mountList{Mounts: infos})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"mounts": len(g.registry.Mounts()),
	})
}

func (g *Gateway) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	if g.store == nil {
		server.WriteError(w, r, domain.ErrNotFound("invocation records are disabled"))
		return
	}

	opts, err := listOptions(r)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}

	recs, err := g.store.ListInvocations(r.Context(), opts)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*domain.InvocationRecord{}
	}
	server.WriteJSON(w, http.StatusOK, invocationList{Invocations: recs})
}

func (g *Gateway) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	if g.store == nil {
		server.WriteError(w, r, domain.ErrNotFound("invocation records are disabled"))
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := g.store.GetInvocation(r.Context(), id)
	if errors.Is(err, ports.ErrInvocationNotFound) {
		server.WriteError(w, r, domain.ErrNotFound(fmt.Sprintf("invocation %s not found", id)))
		return
	}
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, rec)
}

// listOptions parses ?mount=&mode=&status=&since=&limit=&offset=.
func listOptions(r *http.Request) (ports.InvocationListOptions, error) {
	q := r.URL.Query()
	opts := ports.InvocationListOptions{
		Mount:  q.Get("mount"),
		Mode:   domain.Mode(q.Get("mode")),
		Status: domain.InvocationStatus(q.Get("status")),
	}

	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return opts, domain.ErrValidation("since must be an RFC 3339 timestamp")
		}
		opts.Since = t
	}

	var err error
	if opts.Limit, err = nonNegative(q.Get("limit"), "limit"); err != nil {
		return opts, err
	}
	if opts.Offset, err = nonNegative(q.Get("offset"), "offset"); err != nil {
		return opts, err
	}
	return opts, nil
}

func nonNegative(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.ErrValidation(name + " must be a non-negative integer")
	}
	return n, nil
}
