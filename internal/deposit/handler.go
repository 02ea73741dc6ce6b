package deposit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/invoice"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires deposit HTTP endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	idem      *shared.IdempotencyStore
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idem *shared.IdempotencyStore) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		idem:      idem,
		validator: validator.New(),
	}
}

// MountRoutes registers deposit routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Post("/{id}/cancel", h.cancel)
}

type enterDepositRequest struct {
	CustomerCode string          `json:"customerCode" validate:"required"`
	Method       string          `json:"method" validate:"required"`
	Details      json.RawMessage `json:"details"`
	AmountCents  int64           `json:"amountCents" validate:"gt=0"`
	Currency     string          `json:"currency" validate:"required,len=3"`
	CreatedBy    string          `json:"createdBy" validate:"required"`
}

type depositResponse struct {
	ID             string    `json:"id"`
	CustomerCode   string    `json:"customerCode"`
	Method         string    `json:"method"`
	Currency       string    `json:"currency"`
	AmountCents    int64     `json:"amountCents"`
	RemainingCents int64     `json:"remainingCents"`
	Status         string    `json:"status"`
	CreatedBy      string    `json:"createdBy"`
	CanceledBy     string    `json:"canceledBy,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toDepositResponse(d *Deposit) depositResponse {
	return depositResponse{
		ID:             d.ID.String(),
		CustomerCode:   d.CustomerCode,
		Method:         string(d.Method),
		Currency:       string(d.Amount.Currency()),
		AmountCents:    d.Amount.Cents(),
		RemainingCents: d.Remaining.Cents(),
		Status:         string(d.Status),
		CreatedBy:      d.CreatedBy,
		CanceledBy:     d.CanceledBy,
		CreatedAt:      d.CreatedAt,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req enterDepositRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	details, err := invoice.DecodeDetails(invoice.Method(req.Method), req.Details)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), key, "deposit"); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}

	d, err := h.service.Enter(r.Context(), EnterDeposit{
		CustomerCode: req.CustomerCode,
		Details:      details,
		Amount:       money.FromCents(req.AmountCents, money.Currency(req.Currency)),
		CreatedBy:    req.CreatedBy,
	})
	if err != nil {
		if key != "" && h.idem != nil {
			// The command may have failed because the request context
			// expired; the rollback must still reach the store.
			_ = h.idem.Delete(context.WithoutCancel(r.Context()), key)
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDepositResponse(d))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid deposit id")
		return
	}
	d, err := h.service.Find(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDepositResponse(d))
}

type cancelDepositRequest struct {
	CanceledBy string `json:"canceledBy" validate:"required"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid deposit id")
		return
	}
	var req cancelDepositRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.bus.Dispatch(r.Context(), CancelDeposit{DepositID: id, CanceledBy: req.CanceledBy}); err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.Find(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDepositResponse(d))
}
