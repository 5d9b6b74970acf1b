package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/ruralpay/offline-wallet/internal/services"
)

type ActiveAccount interface {
	Active(ctx context.Context) (*models.Account, error)
}

type QRHandler struct {
	service   *services.QRService
	queue     PaymentQueue
	accounts  ActiveAccount
	validator *services.ValidationHelper
}

func NewQRHandler(service *services.QRService, queue PaymentQueue, accounts ActiveAccount) *QRHandler {
	return &QRHandler{
		service:   service,
		queue:     queue,
		accounts:  accounts,
		validator: services.NewValidationHelper(),
	}
}

func (h *QRHandler) Routes(r chi.Router) {
	r.Post("/qr/parse", h.ParseQR)
	r.Post("/qr/enqueue", h.EnqueueQR)
	r.Post("/qr/generate", h.GenerateQR)
}

type scanRequest struct {
	QRData string `json:"qrData" validate:"required,max=4096"`
	Amount string `json:"amount,omitempty" validate:"omitempty,stellar_amount"`
	Memo   string `json:"memo,omitempty" validate:"max=28"`
}

// ParseQR decodes a scanned payload without queuing anything
// @Summary Parse QR Code
// @Description Recognize a plain address, stellar: URI or JSON payment payload
// @Tags QR
// @Accept json
// @Produce json
// @Param request body object{qrData=string} true "Scanned payload"
// @Success 200 {object} object{success=bool,data=models.ParsedIntent}
// @Failure 400 {object} services.ErrorResponse
// @Router /qr/parse [post]
func (h *QRHandler) ParseQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QRData string `json:"qrData" validate:"required,max=4096"`
	}
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    h.service.Parse(req.QRData),
	})
}

// EnqueueQR parses a scanned payload and queues the payment it describes.
// Amount and memo in the body fill in what the code leaves out.
// @Summary Queue scanned payment
// @Tags QR
// @Accept json
// @Produce json
// @Param request body object{qrData=string,amount=string,memo=string} true "Scanned payload"
// @Success 201 {object} models.PendingTransaction
// @Failure 400 {object} services.ErrorResponse
// @Failure 422 {object} object{error=string,data=models.ParsedIntent}
// @Router /qr/enqueue [post]
func (h *QRHandler) EnqueueQR(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	parsed := h.service.Parse(req.QRData)
	if !parsed.IsValid {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": "QR code does not contain a valid payment",
			"data":  parsed,
		})
		return
	}

	intent := models.PaymentIntent{
		Destination:  parsed.Destination,
		Amount:       firstSet(parsed.Amount, req.Amount),
		Memo:         firstSet(parsed.Memo, req.Memo),
		SourceFormat: string(parsed.Format),
		RawPayload:   parsed.RawData,
	}
	if intent.Amount == "" {
		services.SendErrorResponse(w, "Amount is required", http.StatusBadRequest, nil)
		return
	}

	tx, err := h.queue.Enqueue(r.Context(), intent)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// GenerateQR renders a receive code for an address
// @Summary Generate QR Code
// @Description Generate a stellar: payment URI and PNG for the given or active account
// @Tags QR
// @Accept json
// @Produce json
// @Param request body object{address=string,amount=string,memo=string} true "QR generation request"
// @Success 200 {object} object{qrCode=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Router /qr/generate [post]
func (h *QRHandler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address,omitempty" validate:"omitempty,stellar_address"`
		Amount  string `json:"amount,omitempty" validate:"omitempty,stellar_amount"`
		Memo    string `json:"memo,omitempty" validate:"max=28"`
	}
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	if req.Address == "" {
		acct, err := h.accounts.Active(r.Context())
		if err != nil {
			sendServiceError(w, err)
			return
		}
		if acct == nil {
			services.SendErrorResponse(w, "No active account to receive payments", http.StatusBadRequest, nil)
			return
		}
		req.Address = acct.PublicKey
	}

	qrCode, qrImage, err := h.service.Generate(req.Address, req.Amount, req.Memo)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"qrCode":  qrCode,
		"qrImage": qrImage,
	})
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
