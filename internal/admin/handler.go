// Package admin exposes the management screens' backend: disease-type CRUD,
// cancelled appointment review and refund marking.
package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vietcare/booking-gateway/internal/appointment"
	"github.com/vietcare/booking-gateway/internal/catalog"
	"github.com/vietcare/booking-gateway/pkg/logging"
)

// CatalogAPI is the catalog surface the admin screens use.
type CatalogAPI interface {
	ListServices(ctx context.Context) ([]catalog.Service, error)
	CreateDisease(ctx context.Context, req catalog.DiseaseRequest) (*catalog.Service, error)
	UpdateDisease(ctx context.Context, id string, req catalog.DiseaseRequest) (*catalog.Service, error)
	DeleteDisease(ctx context.Context, id string) error
	ImportDiseases(ctx context.Context, filename, contentType string, file io.Reader) (*catalog.ImportResult, error)
}

// AppointmentAPI is the appointment surface the admin screens use.
type AppointmentAPI interface {
	ListCancelled(ctx context.Context) ([]appointment.Appointment, error)
	MarkRefunded(ctx context.Context, appointmentID string, req appointment.RefundRequest) error
	LookupBankAccount(ctx context.Context, accountNumber, bankCode string) (*appointment.BankAccount, error)
}

// Handler serves the admin management endpoints.
type Handler struct {
	catalog  CatalogAPI
	appts    AppointmentAPI
	validate *validator.Validate
	logger   *logging.Logger
}

// NewHandler creates the admin handler.
func NewHandler(cat CatalogAPI, appts AppointmentAPI, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		catalog:  cat,
		appts:    appts,
		validate: validator.New(),
		logger:   logger.Component("admin"),
	}
}

// Routes mounts the admin endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/diseases", h.ListDiseases)
	r.Post("/diseases", h.CreateDisease)
	r.Put("/diseases/{id}", h.UpdateDisease)
	r.Delete("/diseases/{id}", h.DeleteDisease)
	r.Post("/diseases/import", h.ImportDiseases)
	r.Get("/appointments/cancelled", h.ListCancelled)
	r.Post("/appointments/{id}/refund", h.MarkRefunded)
	r.Get("/bank-account", h.LookupBankAccount)
	return r
}

// ListDiseases returns the disease catalog for the admin table.
func (h *Handler) ListDiseases(w http.ResponseWriter, r *http.Request) {
	services, err := h.catalog.ListServices(r.Context())
	if err != nil {
		h.logger.Error("list diseases", "error", err)
		jsonError(w, http.StatusBadGateway, "could not load diseases")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"diseases": services})
}

// CreateDisease adds a disease type.
func (h *Handler) CreateDisease(w http.ResponseWriter, r *http.Request) {
	var req catalog.DiseaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.catalog.CreateDisease(r.Context(), req)
	if err != nil {
		h.logger.Error("create disease", "error", err)
		jsonError(w, http.StatusBadGateway, "could not create disease")
		return
	}
	h.logger.Info("disease created", "id", created.ID, "name", created.Name)
	writeJSON(w, http.StatusCreated, created)
}

// UpdateDisease updates a disease type.
func (h *Handler) UpdateDisease(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req catalog.DiseaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.catalog.UpdateDisease(r.Context(), id, req)
	if err != nil {
		h.logger.Error("update disease", "error", err, "id", id)
		jsonError(w, http.StatusBadGateway, "could not update disease")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteDisease removes a disease type.
func (h *Handler) DeleteDisease(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.catalog.DeleteDisease(r.Context(), id); err != nil {
		h.logger.Error("delete disease", "error", err, "id", id)
		jsonError(w, http.StatusBadGateway, "could not delete disease")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportDiseases streams an uploaded spreadsheet through to the catalog.
func (h *Handler) ImportDiseases(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = "import.xlsx"
	}
	result, err := h.catalog.ImportDiseases(r.Context(), filename, r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		h.logger.Error("import diseases", "error", err, "filename", filename)
		jsonError(w, http.StatusBadGateway, "import failed")
		return
	}
	h.logger.Info("diseases imported", "imported", result.Imported, "skipped", result.Skipped)
	writeJSON(w, http.StatusOK, result)
}

// ListCancelled returns cancelled appointments awaiting refund review.
func (h *Handler) ListCancelled(w http.ResponseWriter, r *http.Request) {
	appts, err := h.appts.ListCancelled(r.Context())
	if err != nil {
		h.logger.Error("list cancelled", "error", err)
		jsonError(w, http.StatusBadGateway, "could not load cancelled appointments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

// MarkRefunded verifies the refund destination account, then records the
// payback against the cancelled appointment.
func (h *Handler) MarkRefunded(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req appointment.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := h.appts.LookupBankAccount(r.Context(), req.BankAccountNumber, req.BankCode)
	if err != nil {
		h.logger.Error("bank account lookup", "error", err)
		jsonError(w, http.StatusBadGateway, "could not verify the bank account")
		return
	}
	if !acct.Valid {
		jsonError(w, http.StatusUnprocessableEntity, "bank account could not be verified")
		return
	}

	if err := h.appts.MarkRefunded(r.Context(), id, req); err != nil {
		h.logger.Error("mark refunded", "error", err, "appointment_id", id)
		jsonError(w, http.StatusBadGateway, "could not mark the refund")
		return
	}
	h.logger.Info("refund marked", "appointment_id", id, "amount_cents", req.AmountCents)
	w.WriteHeader(http.StatusNoContent)
}

// LookupBankAccount resolves a refund destination's owner for display.
func (h *Handler) LookupBankAccount(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	bank := r.URL.Query().Get("bank")
	if number == "" || bank == "" {
		jsonError(w, http.StatusBadRequest, "number and bank are required")
		return
	}
	acct, err := h.appts.LookupBankAccount(r.Context(), number, bank)
	if err != nil {
		h.logger.Error("bank account lookup", "error", err)
		jsonError(w, http.StatusBadGateway, "could not look up the bank account")
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
