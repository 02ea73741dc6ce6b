package creditnote

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires credit note HTTP endpoints.
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

// MountRoutes registers credit note routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
}

type returnedItemRequest struct {
	ProductCode string `json:"productCode" validate:"required"`
	Returned    int64  `json:"returned" validate:"gt=0"`
}

type makeCreditNoteRequest struct {
	CustomerCode string                `json:"customerCode" validate:"required"`
	CreatedBy    string                `json:"createdBy" validate:"required"`
	Observation  string                `json:"observation"`
	Items        []returnedItemRequest `json:"items" validate:"required,min=1,dive"`
}

type creditNoteItemResponse struct {
	ProductCode string `json:"productCode"`
	Returned    int64  `json:"returned"`
	PriceCents  int64  `json:"priceCents"`
}

type creditNoteResponse struct {
	ID           string                   `json:"id"`
	CustomerCode string                   `json:"customerCode"`
	CreatedBy    string                   `json:"createdBy"`
	Observation  string                   `json:"observation,omitempty"`
	Currency     string                   `json:"currency"`
	TotalCents   int64                    `json:"totalCents"`
	Items        []creditNoteItemResponse `json:"items"`
	CreatedAt    time.Time                `json:"createdAt"`
}

func toCreditNoteResponse(cn *CreditNote) creditNoteResponse {
	resp := creditNoteResponse{
		ID:           cn.ID.String(),
		CustomerCode: cn.CustomerCode,
		CreatedBy:    cn.CreatedBy,
		Observation:  cn.Observation,
		Currency:     string(cn.Total.Currency()),
		TotalCents:   cn.Total.Cents(),
		Items:        make([]creditNoteItemResponse, 0, len(cn.Items)),
		CreatedAt:    cn.CreatedAt,
	}
	for _, it := range cn.Items {
		resp.Items = append(resp.Items, creditNoteItemResponse{
			ProductCode: it.ProductCode,
			Returned:    it.Returned,
			PriceCents:  it.Price.Cents(),
		})
	}
	return resp
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req makeCreditNoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), key, "creditnote"); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}

	items := make([]ReturnedItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, ReturnedItem{ProductCode: it.ProductCode, Returned: it.Returned})
	}
	cn, err := h.service.Make(r.Context(), MakeCreditNote{
		CustomerCode: req.CustomerCode,
		CreatedBy:    req.CreatedBy,
		Observation:  req.Observation,
		Items:        items,
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
	httpx.JSON(w, http.StatusCreated, toCreditNoteResponse(cn))
}
