package vaultapi

import (
	"net/http"
	"strconv"
	"strings"

	vaulterrors "evovault/core/errors"
	"evovault/core/withdrawals"
)

// ViewWithdrawals renders the session snapshot. Query parameters override
// the session preferences for this request only: status (comma list, may be
// empty), sort, asc, page and page_size.
func (s *Server) ViewWithdrawals(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(networkFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q, err := parseQuery(r, sess.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := sess.Render(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func parseQuery(r *http.Request, q withdrawals.Query) (withdrawals.Query, error) {
	values := r.URL.Query()
	if values.Has("status") {
		set, err := withdrawals.ParseStatusSet(values.Get("status"))
		if err != nil {
			return q, vaulterrors.Validation("%v", err)
		}
		q.Statuses = set
	}
	if raw := values.Get("sort"); raw != "" {
		column, err := withdrawals.ParseSortColumn(raw)
		if err != nil {
			return q, vaulterrors.Validation("%v", err)
		}
		q.Sort.Column = column
	}
	if raw := values.Get("asc"); raw != "" {
		asc, err := strconv.ParseBool(raw)
		if err != nil {
			return q, vaulterrors.Validation("asc: %v", err)
		}
		q.Sort.Ascending = asc
	}
	if raw := values.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return q, vaulterrors.Validation("page: %v", err)
		}
		q.Page = page
	}
	if raw := values.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, vaulterrors.Validation("page_size: %v", err)
		}
		size, err := withdrawals.ParsePageSize(n)
		if err != nil {
			return q, vaulterrors.Validation("%v", err)
		}
		q.PageSize = size
	}
	return q, nil
}

// ApplyWithdrawals merges a partial result delivered by the query dispatcher.
func (s *Server) ApplyWithdrawals(w http.ResponseWriter, r *http.Request) {
	var result withdrawals.PartialResult
	if err := decodeBody(w, r, &result); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.sessions.Get(networkFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stats, err := sess.Apply(result)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{
		"added":      stats.Added,
		"duplicates": stats.Duplicates,
		"size":       stats.Size,
	})
}

// FailWithdrawals records a dispatcher error against the session.
func (s *Server) FailWithdrawals(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	sess, err := s.sessions.Get(networkFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := sess.Fail(message); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshWithdrawals discards the session snapshot.
func (s *Server) RefreshWithdrawals(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(networkFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := sess.Refresh(); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
