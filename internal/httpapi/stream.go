package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// Stream handles Server-Sent Events for branch change notifications. The
// project query parameter scopes the subscription; browse is enforced by the
// facade before the subscription is accepted.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}

	projectKey := strings.TrimSpace(r.URL.Query().Get("project"))
	if projectKey == "" {
		writeError(w, r, http.StatusBadRequest, "project is required")
		return
	}
	scope, err := a.facade.ResolveForStream(r.Context(), principalOf(r), projectKey)
	if err != nil {
		handleReviewError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.hub.Subscribe(ctx, scope.Project.UUID)

	// Initial comment establishes the stream before the first event.
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
