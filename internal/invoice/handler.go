package invoice

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires invoice HTTP endpoints.
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

// MountRoutes registers invoice routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Post("/{id}/payments", h.addPayment)
	r.Post("/payments/{paymentID}/cancel", h.cancelPayment)
	r.Post("/payments/{paymentID}/reduce", h.reducePayment)
}

type lineItemRequest struct {
	ProductCode    string `json:"productCode" validate:"required"`
	Quantity       int64  `json:"quantity" validate:"gt=0"`
	UnitPriceCents int64  `json:"unitPriceCents" validate:"gt=0"`
}

type createInvoiceRequest struct {
	CustomerCode string            `json:"customerCode" validate:"required"`
	OrderID      string            `json:"orderId" validate:"required"`
	Currency     string            `json:"currency" validate:"required,len=3"`
	DueDate      time.Time         `json:"dueDate" validate:"required"`
	Items        []lineItemRequest `json:"items" validate:"required,min=1,dive"`
}

type paymentResponse struct {
	ID          string          `json:"id"`
	Method      string          `json:"method"`
	Details     json.RawMessage `json:"details,omitempty"`
	AmountCents int64           `json:"amountCents"`
	Status      string          `json:"status"`
	CreatedBy   string          `json:"createdBy"`
	CanceledBy  string          `json:"canceledBy,omitempty"`
	DepositID   string          `json:"depositId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type invoiceResponse struct {
	ID             string            `json:"id"`
	CustomerCode   string            `json:"customerCode"`
	OrderID        string            `json:"orderId"`
	Currency       string            `json:"currency"`
	TotalCents     int64             `json:"totalCents"`
	DepositedCents int64             `json:"depositedCents"`
	DueDate        time.Time         `json:"dueDate"`
	Status         string            `json:"status"`
	Payments       []paymentResponse `json:"payments"`
}

func toInvoiceResponse(inv *Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:             inv.ID.String(),
		CustomerCode:   inv.CustomerCode,
		OrderID:        inv.OrderID,
		Currency:       string(inv.Total.Currency()),
		TotalCents:     inv.Total.Cents(),
		DepositedCents: inv.Deposited.Cents(),
		DueDate:        inv.DueDate,
		Status:         string(inv.Status),
		Payments:       make([]paymentResponse, 0, len(inv.Payments)),
	}
	for _, p := range inv.Payments {
		pr := paymentResponse{
			ID:          p.ID.String(),
			Method:      string(p.Method),
			AmountCents: p.Amount.Cents(),
			Status:      string(p.Status),
			CreatedBy:   p.CreatedBy,
			CanceledBy:  p.CanceledBy,
			CreatedAt:   p.CreatedAt,
		}
		if p.DepositID != nil {
			pr.DepositID = p.DepositID.String()
		}
		if raw, err := EncodeDetails(p.Details); err == nil {
			pr.Details = raw
		}
		resp.Payments = append(resp.Payments, pr)
	}
	return resp
}

// idempotencyGuard is the slice of shared.IdempotencyStore the handlers use.
type idempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// checkIdempotency consumes the Idempotency-Key header when present. The
// returned rollback removes the key again so a failed command can be retried.
// The rollback detaches from request cancellation: the command may have
// failed precisely because the request context expired, and a key left
// behind would turn every retry into a 409.
func checkIdempotency(w http.ResponseWriter, r *http.Request, idem idempotencyGuard, module string) (rollback func(), ok bool) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || idem == nil {
		return func() {}, true
	}
	if err := idem.CheckAndInsert(r.Context(), key, module); err != nil {
		httpx.RespondError(w, err)
		return nil, false
	}
	return func() { _ = idem.Delete(context.WithoutCancel(r.Context()), key) }, true
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rollback, ok := checkIdempotency(w, r, h.idem, "invoice")
	if !ok {
		return
	}

	cur := money.Currency(req.Currency)
	items := make([]LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, LineItem{
			ProductCode: it.ProductCode,
			Quantity:    it.Quantity,
			UnitPrice:   money.FromCents(it.UnitPriceCents, cur),
		})
	}
	inv, err := h.service.Generate(r.Context(), GenerateInvoice{
		CustomerCode: req.CustomerCode,
		OrderID:      req.OrderID,
		DueDate:      req.DueDate,
		Items:        items,
	})
	if err != nil {
		rollback()
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toInvoiceResponse(inv))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	inv, err := h.service.Find(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(inv))
}

type addPaymentRequest struct {
	Method      string          `json:"method" validate:"required"`
	Details     json.RawMessage `json:"details"`
	AmountCents int64           `json:"amountCents" validate:"gt=0"`
	Currency    string          `json:"currency" validate:"required,len=3"`
	CreatedBy   string          `json:"createdBy" validate:"required"`
}

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	var req addPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	details, err := DecodeDetails(Method(req.Method), req.Details)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rollback, ok := checkIdempotency(w, r, h.idem, "invoice")
	if !ok {
		return
	}

	err = h.service.bus.Dispatch(r.Context(), AddPayment{
		InvoiceID: id,
		Details:   details,
		Amount:    money.FromCents(req.AmountCents, money.Currency(req.Currency)),
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		rollback()
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Find(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toInvoiceResponse(inv))
}

type cancelPaymentRequest struct {
	CanceledBy string `json:"canceledBy" validate:"required"`
}

func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
		return
	}
	var req cancelPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err = h.service.bus.Dispatch(r.Context(), CancelPayment{
		PaymentID:  paymentID,
		CanceledBy: req.CanceledBy,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

type reducePaymentRequest struct {
	ReductionCents int64  `json:"reductionCents" validate:"gte=0"`
	Currency       string `json:"currency" validate:"required,len=3"`
}

func (h *Handler) reducePayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
		return
	}
	var req reducePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err = h.service.bus.Dispatch(r.Context(), ReducePaymentAmount{
		PaymentID: paymentID,
		Reduction: money.FromCents(req.ReductionCents, money.Currency(req.Currency)),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "reduced"})
}
