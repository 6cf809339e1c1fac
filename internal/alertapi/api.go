// Package alertapi exposes the triage pipeline over HTTP: alert ingest,
// case lookup, the reviewer half of the escalation mailbox, and signed
// evidence retrieval.
package alertapi

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/audit"
	"github.com/linnemanlabs/warden/internal/authmw"
	"github.com/linnemanlabs/warden/internal/blob"
	"github.com/linnemanlabs/warden/internal/signurl"
	"github.com/linnemanlabs/warden/internal/ticket"
	"github.com/linnemanlabs/warden/internal/workflow"
)

// WorkflowService defines the business operations alertapi needs.
type WorkflowService interface {
	Submit(ctx context.Context, raw string) (*workflow.SubmitResult, error)
	GetCase(ctx context.Context, tid ticket.ID) (*audit.Row, bool, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      WorkflowService
	mailbox  blob.Store
	evidence blob.Store
	signer   *signurl.Signer
	token    string
}

// New creates a new API handler. token guards the write endpoints; an empty
// token disables auth, which is acceptable only in dev.
func New(logger log.Logger, svc WorkflowService, mailbox, evidence blob.Store, signer *signurl.Signer, token string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("workflow service is required"))
	}
	return &API{
		logger:   logger,
		svc:      svc,
		mailbox:  mailbox,
		evidence: evidence,
		signer:   signer,
		token:    token,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if a.token != "" {
				r.Use(authmw.BearerToken(a.token))
			}
			r.Post("/alerts", a.handleIngestAlert)
			r.Post("/cases/{ticketID}/response", a.handleSubmitResponse)
		})
		r.Get("/cases/{ticketID}", a.handleGetCase)
	})
	r.Get("/evidence", a.handleEvidence)
}
