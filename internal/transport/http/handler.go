package http

import (
	"context"
	"net/http"
	"strconv"

	"creditflow/internal/apperr"
	"creditflow/internal/logger"
	"creditflow/internal/model"
	"creditflow/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type HandlerParams struct {
	Submission service.SubmissionService
	Ledger     service.LedgerService
	Assets     service.AssetService
	Health     pinger
	Gatherer   prometheus.Gatherer
	Webhook    *StripeWebhook
	Logger     *logger.Logger
}

type Handler struct {
	submission service.SubmissionService
	ledger     service.LedgerService
	assets     service.AssetService
	health     pinger
	gatherer   prometheus.Gatherer
	webhook    *StripeWebhook
	log        *logger.Logger
}

func NewHandler(p HandlerParams) *Handler {
	log := p.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		submission: p.Submission,
		ledger:     p.Ledger,
		assets:     p.Assets,
		health:     p.Health,
		gatherer:   p.Gatherer,
		webhook:    p.Webhook,
		log:        log,
	}
}

// Routes builds the chi router with request id, logging and panic recovery.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer(h.log), requestID(h.log), logging(h.log))

	r.Get("/health", h.Health)
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/organizations", h.CreateOrganization)
		r.Route("/organizations/{id}", func(r chi.Router) {
			r.Get("/", h.GetOrganization)
			r.Get("/balance", h.GetBalance)
			r.Get("/transactions", h.ListTransactions)
			r.Get("/assets", h.ListAssets)
			r.Get("/reconcile", h.Reconcile)
			r.Post("/credits", h.AdjustCredits)
		})
		r.Post("/submissions", h.Submit)
		r.Get("/assets/{id}", h.GetAsset)
		r.Post("/assets/{id}/status", h.ApplyStatus)
		r.Get("/credit-packages", h.CreditPackages)
		if h.webhook != nil {
			r.Post("/webhooks/stripe", h.webhook.ServeHTTP)
		}
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			writeError(r.Context(), h.log, w, apperr.Wrap(apperr.CodeStoreUnavailable, err, "store ping failed"))
			return
		}
	}
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Submit answers with the shared submission envelope for both outcomes.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req model.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeSubmission(ctx, w, nil, err)
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}
	ctx = h.log.WithOrganizationID(ctx, req.OrganizationID)
	ctx = h.log.WithUserID(ctx, req.UserID)

	res, err := h.submission.Submit(ctx, req)
	h.writeSubmission(ctx, w, res, err)
}

func (h *Handler) writeSubmission(ctx context.Context, w http.ResponseWriter, res *model.SubmissionResult, err error) {
	resp := model.NewSubmissionResponse(res, err)
	if err != nil {
		status := apperr.MetadataFor(resp.Code).HTTPStatus
		logRequestError(ctx, h.log, err, status)
		writeJSON(w, status, resp)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req model.CreateOrganizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	org, err := h.ledger.CreateOrganization(r.Context(), req)
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, org)
}

func (h *Handler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	org, err := h.ledger.GetOrganization(r.Context(), orgID)
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	writeSuccess(w, http.StatusOK, org)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	balance, err := h.ledger.GetBalance(r.Context(), orgID)
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"organizationId": orgID, "balance": balance})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	limit, ok := h.queryLimit(w, r)
	if !ok {
		return
	}
	txns, err := h.ledger.ListTransactions(r.Context(), orgID, limit)
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	writeSuccess(w, http.StatusOK, txns)
}

func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	limit, ok := h.queryLimit(w, r)
	if !ok {
		return
	}
	filter := model.AssetFilter{Status: model.AssetStatus(r.URL.Query().Get("status")), Limit: limit}
	assets, err := h.assets.ListAssets(r.Context(), orgID, filter)
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	writeSuccess(w, http.StatusOK, assets)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.ledger.Reconcile(r.Context(), orgID)
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	writeSuccess(w, http.StatusOK, rec)
}

type creditsRequest struct {
	UserID      string                `json:"userId"`
	Amount      int64                 `json:"amount"`
	Type        model.TransactionType `json:"transactionType"`
	ExternalRef string                `json:"externalRef"`
}

// AdjustCredits books a purchase or refund grant, or an expiry.
func (h *Handler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req creditsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(ctx, h.log, w, err)
		return
	}

	if req.Type == model.TransactionExpiry {
		txn, err := h.ledger.Expire(ctx, orgID, req.UserID, req.Amount)
		if err != nil {
			writeError(ctx, h.log, w, err)
			return
		}
		if txn == nil {
			writeJSON(w, http.StatusNoContent, nil)
			return
		}
		writeSuccess(w, http.StatusCreated, txn)
		return
	}

	txn, err := h.ledger.Grant(ctx, model.GrantRequest{
		OrganizationID: orgID,
		UserID:         req.UserID,
		Amount:         req.Amount,
		Type:           req.Type,
		ExternalRef:    req.ExternalRef,
	})
	if err != nil {
		writeError(ctx, h.log, w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, txn)
}

func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	assetID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	asset, err := h.assets.GetAsset(r.Context(), assetID)
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	writeSuccess(w, http.StatusOK, asset)
}

type statusRequest struct {
	Status    model.AssetStatus `json:"status"`
	OutputURL *string           `json:"outputUrl,omitempty"`
}

func (h *Handler) ApplyStatus(w http.ResponseWriter, r *http.Request) {
	assetID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	asset, err := h.assets.ApplyStatus(r.Context(), model.StatusUpdate{
		AssetID:   assetID,
		Status:    req.Status,
		OutputURL: req.OutputURL,
	})
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	writeSuccess(w, http.StatusOK, asset)
}

func (h *Handler) CreditPackages(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, model.CreditPackages())
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(r.Context(), h.log, w, apperr.Wrap(apperr.CodeValidation, err, "invalid id").
			WithDetails(map[string]string{"id": "must be a valid UUID"}))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeError(r.Context(), h.log, w, apperr.New(apperr.CodeValidation, "invalid limit").
			WithDetails(map[string]string{"limit": "must be a non-negative integer"}))
		return 0, false
	}
	return limit, true
}
