package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"reviewhub.org/internal/query"
	"reviewhub.org/internal/review"
)

type changeStatusRequest struct {
	Status     string `json:"status"`
	Resolution string `json:"resolution"`
	Comment    string `json:"comment"`
}

type assignRequest struct {
	Login   string `json:"login"`
	Comment string `json:"comment"`
}

type commentRequest struct {
	Text string `json:"text"`
}

type bulkChangeRequest struct {
	Keys              []string `json:"keys"`
	Status            string   `json:"status"`
	Resolution        string   `json:"resolution"`
	Assign            string   `json:"assign"`
	ClearAssignee     bool     `json:"clear_assignee"`
	Comment           string   `json:"comment"`
	SendNotifications bool     `json:"send_notifications"`
}

type recordResponse struct {
	Record review.Record `json:"record"`
}

type commentResponse struct {
	Comment review.Comment `json:"comment"`
	HTML    string         `json:"html"`
}

// handleRecordsCollection serves GET /v1/records, the list query.
func (a *API) handleRecordsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.search(w, r)
}

// handleRecordResource dispatches /v1/records/{key} and its sub-resources.
func (a *API) handleRecordResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/records/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	key, sub, _ := strings.Cut(path, "/")
	if key == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.show(w, r, key)
	case "status":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.changeStatus(w, r, key)
	case "assign":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.assign(w, r, key)
	case "comments":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.addComment(w, r, key)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleBulkChange serves POST /v1/records/bulk, applying one set of actions
// across many records. Per-record outcomes are summed up in the response, not
// reported individually.
func (a *API) handleBulkChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req bulkChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.service.BulkChange(r.Context(), principalOf(r), review.BulkChangeRequest{
		Keys:              req.Keys,
		Status:            review.Status(req.Status),
		Resolution:        review.Resolution(req.Resolution),
		AssignLogin:       req.Assign,
		ClearAssignee:     req.ClearAssignee,
		Comment:           req.Comment,
		SendNotifications: req.SendNotifications,
	})
	if err != nil {
		handleReviewError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCommentResource serves PUT and DELETE on /v1/comments/{key}.
func (a *API) handleCommentResource(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/v1/comments/")
	if key == "" || strings.Contains(key, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req commentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		res, err := a.service.EditComment(r.Context(), principalOf(r), key, req.Text)
		if err != nil {
			handleReviewError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, commentResponse{Comment: res.Comment, HTML: res.HTML})
	case http.MethodDelete:
		if err := a.service.DeleteComment(r.Context(), principalOf(r), key); err != nil {
			handleReviewError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) changeStatus(w http.ResponseWriter, r *http.Request, key string) {
	var req changeStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.service.ChangeStatus(r.Context(), principalOf(r), key,
		review.Status(req.Status), review.Resolution(req.Resolution), req.Comment)
	if err != nil {
		handleReviewError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Record: rec})
}

func (a *API) assign(w http.ResponseWriter, r *http.Request, key string) {
	var req assignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.service.Assign(r.Context(), principalOf(r), key, req.Login, req.Comment)
	if err != nil {
		handleReviewError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Record: rec})
}

func (a *API) addComment(w http.ResponseWriter, r *http.Request, key string) {
	var req commentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.service.AddComment(r.Context(), principalOf(r), key, req.Text)
	if err != nil {
		handleReviewError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, commentResponse{Comment: res.Comment, HTML: res.HTML})
}

func (a *API) show(w http.ResponseWriter, r *http.Request, key string) {
	res, err := a.facade.Show(r.Context(), principalOf(r), key)
	if err != nil {
		handleReviewError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := query.SearchRequest{
		ProjectKey:        q.Get("project"),
		Branch:            q.Get("branch"),
		PullRequest:       q.Get("pull_request"),
		Kind:              review.Kind(q.Get("kind")),
		AssigneeUUID:      q.Get("assignee"),
		SecurityStandards: splitParam(q.Get("standards")),
		Files:             splitParam(q.Get("files")),
		OnlyNewCode:       q.Get("in_new_code_period") == "true",
	}
	for _, s := range splitParam(q.Get("statuses")) {
		req.Statuses = append(req.Statuses, review.Status(s))
	}
	for _, s := range splitParam(q.Get("resolutions")) {
		req.Resolutions = append(req.Resolutions, review.Resolution(s))
	}

	var err error
	if req.Page, err = parseIntParam(q.Get("p"), 1); err != nil {
		writeError(w, r, http.StatusBadRequest, "p must be a positive integer")
		return
	}
	if req.PageSize, err = parseIntParam(q.Get("ps"), 0); err != nil {
		writeError(w, r, http.StatusBadRequest, "ps must be a positive integer")
		return
	}

	res, err := a.facade.Search(r.Context(), principalOf(r), req)
	if err != nil {
		handleReviewError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handlePull streams the incremental sync payload for one branch. The
// response is binary framed, not JSON; the next cursor travels inside the
// stream itself.
func (a *API) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()

	var since time.Time
	if raw := q.Get("since"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			writeError(w, r, http.StatusBadRequest, "since must be a unix millisecond timestamp")
			return
		}
		since = time.UnixMilli(ms).UTC()
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := a.facade.Pull(r.Context(), principalOf(r), q.Get("project"), q.Get("branch"), since, w); err != nil {
		handleReviewError(w, r, err)
		return
	}
}

func splitParam(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntParam(raw string, def int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
