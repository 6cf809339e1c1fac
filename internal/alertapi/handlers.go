package alertapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/warden/internal/blob"
	"github.com/linnemanlabs/warden/internal/escalate"
	"github.com/linnemanlabs/warden/internal/signurl"
	"github.com/linnemanlabs/warden/internal/ticket"
)

// maxAlertBytes bounds the ingest body; alerts are short JSON payloads,
// sometimes with narrative framing.
const maxAlertBytes = 1 << 20

func (a *API) handleIngestAlert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAlertBytes))
	if err != nil {
		http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, `{"error":"empty alert"}`, http.StatusBadRequest)
		return
	}

	res, err := a.svc.Submit(r.Context(), string(body))
	if err != nil {
		a.logger.Error(r.Context(), err, "alert submit failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(res)
}

func (a *API) handleGetCase(w http.ResponseWriter, r *http.Request) {
	tid := ticket.ID(chi.URLParam(r, "ticketID"))

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.ticket_id", string(tid)))

	row, ok, err := a.svc.GetCase(r.Context(), tid)
	if err != nil {
		a.logger.Error(r.Context(), err, "case lookup failed", "ticket_id", tid)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(row)
}

// handleSubmitResponse is the reviewer-side half of the mailbox: it writes
// the response object the poller is waiting on. Responding to a case with no
// pending request is a 404, not a silent write.
func (a *API) handleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	tid := ticket.ID(chi.URLParam(r, "ticketID"))

	var resp escalate.Response
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if resp.HumanDecision == "" {
		http.Error(w, `{"error":"human_decision is required"}`, http.StatusBadRequest)
		return
	}

	pending, err := a.mailbox.Exists(r.Context(), escalate.RequestPath(tid))
	if err != nil {
		a.logger.Error(r.Context(), err, "mailbox check failed", "ticket_id", tid)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !pending {
		http.Error(w, `{"error":"no pending escalation for ticket"}`, http.StatusNotFound)
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if err := a.mailbox.Put(r.Context(), escalate.ResponsePath(tid), data); err != nil {
		a.logger.Error(r.Context(), err, "mailbox write failed", "ticket_id", tid)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleEvidence validates a signed link and streams the referenced object.
func (a *API) handleEvidence(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uri, err := a.signer.Verify(q.Get("uri"), q.Get("exp"), q.Get("sig"))
	if err != nil {
		status := http.StatusForbidden
		if errors.Is(err, signurl.ErrExpired) {
			status = http.StatusGone
		}
		http.Error(w, `{"error":"link rejected"}`, status)
		return
	}

	data, err := a.evidence.Get(r.Context(), uri)
	if errors.Is(err, blob.ErrNotFound) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "evidence read failed", "uri", uri)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	_, _ = w.Write(data)
}
