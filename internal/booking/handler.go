package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vietcare/booking-gateway/internal/appointment"
	"github.com/vietcare/booking-gateway/internal/catalog"
	"github.com/vietcare/booking-gateway/internal/observability/metrics"
	"github.com/vietcare/booking-gateway/internal/payment"
	"github.com/vietcare/booking-gateway/internal/schedule"
	"github.com/vietcare/booking-gateway/internal/session"
	"github.com/vietcare/booking-gateway/pkg/logging"
)

// CatalogAPI is the slice of the catalog client the wizard needs.
type CatalogAPI interface {
	ListServices(ctx context.Context) ([]catalog.Service, error)
	ListDoctors(ctx context.Context, serviceName string) ([]catalog.Doctor, error)
	GetPrice(ctx context.Context, typeName string) (*catalog.Price, error)
}

// ScheduleAPI is the slice of the schedule client the wizard needs.
type ScheduleAPI interface {
	ListByDoctorDate(ctx context.Context, doctorID string, date time.Time) ([]schedule.WorkSchedule, error)
	ListByDoctorRange(ctx context.Context, doctorID string, from, to time.Time) ([]schedule.WorkSchedule, error)
}

// AppointmentAPI is the slice of the appointment client the wizard needs.
type AppointmentAPI interface {
	HasAppointment(ctx context.Context, patientID, workScheduleID string) (bool, error)
	Create(ctx context.Context, req appointment.CreateRequest) (*appointment.Appointment, error)
}

// Config carries the handler's payment and horizon settings.
type Config struct {
	BankAccountNumber string
	BankCode          string
	DefaultPriceCents int64
	Currency          string
	HorizonDays       int
}

// Handler exposes the booking wizard over HTTP. One wizard per patient.
type Handler struct {
	store    *Store
	catalog  CatalogAPI
	schedule ScheduleAPI
	appts    AppointmentAPI
	watcher  *payment.Watcher
	cfg      Config
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	results map[string]*bookingResult
}

// bookingResult tracks the payment watch and completion outcome per patient.
type bookingResult struct {
	watch       *payment.Watch
	appointment *appointment.Appointment
}

// NewHandler creates the booking wizard handler.
func NewHandler(store *Store, cat CatalogAPI, sched ScheduleAPI, appts AppointmentAPI,
	watcher *payment.Watcher, cfg Config, m *metrics.BookingMetrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = schedule.DefaultHorizonDays
	}
	return &Handler{
		store:    store,
		catalog:  cat,
		schedule: sched,
		appts:    appts,
		watcher:  watcher,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.Component("booking"),
		now:      time.Now,
		results:  make(map[string]*bookingResult),
	}
}

// Routes mounts the wizard endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Start)
	r.Get("/", h.GetState)
	r.Get("/services", h.ListServices)
	r.Post("/service", h.SelectService)
	r.Get("/doctors", h.ListDoctors)
	r.Post("/doctor", h.SelectDoctor)
	r.Get("/dates", h.ListDates)
	r.Get("/slots", h.ListSlots)
	r.Post("/slot", h.SelectSlot)
	r.Post("/continue", h.Continue)
	r.Post("/back", h.Back)
	r.Post("/cancel", h.Cancel)
	return r
}

// Start begins a fresh wizard for the session's patient.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "missing session")
		return
	}
	h.dropResult(sess.PatientID)
	wz := h.store.Start(sess.PatientID)
	h.metrics.ObserveWizardStarted()
	h.logger.Info("wizard started", "patient_id", sess.PatientID)
	writeJSON(w, http.StatusCreated, h.stateResponse(sess.PatientID, wz))
}

// GetState reports the wizard's step, selection and payment status.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	sess, wz, ok := h.wizard(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.stateResponse(sess.PatientID, wz))
}

// ListServices returns the bookable disease types.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	services, err := h.catalog.ListServices(r.Context())
	h.metrics.ObserveBackendLatency("catalog", time.Since(start).Seconds())
	if err != nil {
		h.logger.Error("list services", "error", err)
		jsonError(w, http.StatusBadGateway, "could not load services")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

type selectServiceRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SelectService commits a service choice and advances the wizard.
func (h *Handler) SelectService(w http.ResponseWriter, r *http.Request) {
	sess, wz, ok := h.wizard(w, r)
	if !ok {
		return
	}
	var req selectServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := wz.SelectService(req.ID, req.Name); err != nil {
		h.transitionError(w, "selecting_doctor", err)
		return
	}
	h.metrics.ObserveTransition(StateSelectingDoctor.String(), "ok")
	writeJSON(w, http.StatusOK, h.stateResponse(sess.PatientID, wz))
}

// ListDoctors returns doctors for the selected service.
func (h *Handler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	_, wz, ok := h.wizard(w, r)
	if !ok {
		return
	}
	serviceName := wz.Selection().ServiceName
	if serviceName == "" {
		jsonError(w, http.StatusConflict, "select a service first")
		return
	}
	start := time.Now()
	doctors, err := h.catalog.ListDoctors(r.Context(), serviceName)
	h.metrics.ObserveBackendLatency("catalog", time.Since(start).Seconds())
	if err != nil {
		h.logger.Error("list doctors", "error", err, "service", serviceName)
		jsonError(w, http.StatusBadGateway, "could not load doctors")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctors": doctors})
}

type selectDoctorRequest struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
}

// SelectDoctor commits a doctor choice and advances the wizard.
func (h *Handler) SelectDoctor(w http.ResponseWriter, r *http.Request) {
	sess, wz, ok := h.wizard(w, r)
	if !ok {
		return
	}
	var req selectDoctorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := wz.SelectDoctor(req.ID, req.FullName); err != nil {
		h.transitionError(w, "selecting_datetime", err)
		return
	}
	h.metrics.ObserveTransition(StateSelectingDateTime.String(), "ok")
	writeJSON(w, http.StatusOK, h.stateResponse(sess.PatientID, wz))
}

// ListSlots returns grouped, availability-annotated shifts for a date.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	_, wz, ok := h.wizard(w, r)
	if !ok {
		return
	}
	sel := wz.Selection()
	if sel.DoctorID == "" {
		jsonError(w, http.StatusConflict, "select a doctor first")
		return
	}
	date, err := time.ParseInLocation(schedule.DateLayout, r.URL.Query().Get("date"), h.now().Location())
	if err != nil {
		jsonError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	now := h.now()
	if schedule.ShouldDisableDate(now, date, h.cfg.HorizonDays) {
		jsonError(w, http.StatusBadRequest, "date is not bookable")
		return
	}
	start := time.Now()
	rows, err := h.schedule.ListByDoctorDate(r.Context(), sel.DoctorID, date)
	h.metrics.ObserveBackendLatency("schedule", time.Since(start).Seconds())
	if err != nil {
		h.logger.Error("list slots", "error", err, "doctor_id", sel.DoctorID)
		jsonError(w, http.StatusBadGateway, "could not load work schedules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": schedule.GroupSlots(rows, now, date)})
}

// ListDates returns day-level availability across the booking horizon so the
// date picker can mark days with no bookable shift.
func (h *Handler) ListDates(w http.ResponseWriter, r *http.Request) {
	_, wz, ok := h.wizard(w, r)
	if !ok {
		return
	}
	sel := wz.Selection()
	if sel.DoctorID == "" {
		jsonError(w, http.StatusConflict, "select a doctor first")
		return
	}
	now := h.now()
	start := time.Now()
	rows, err := h.schedule.ListByDoctorRange(r.Context(), sel.DoctorID, now, now.AddDate(0, 0, h.cfg.HorizonDays))
	h.metrics.ObserveBackendLatency("schedule", time.Since(start).Seconds())
	if err != nil {
		h.logger.Error("list dates", "error", err, "doctor_id", sel.DoctorID)
		jsonError(w, http.StatusBadGateway, "could not load work schedules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": schedule.GroupDates(rows, now, h.cfg.HorizonDays)})
}

type selectSlotRequest struct {
	Date           string `json:"date"`
	ShiftID        string `json:"shiftId"`
	ShiftLabel     string `json:"shiftLabel"`
	WorkScheduleID string `json:"workScheduleId"`
}

// SelectSlot runs the duplicate-appointment conflict check and, when clear,
// commits the slot choice. A conflict leaves the work schedule unselected.
func (h *Handler) SelectSlot(w http.ResponseWriter, r *http.Request) {
	sess, wz, ok := h.wizard(w, r)
	if !ok {
		return
	}
	// Reject before the conflict check runs; a late slot request must never
	// touch a selection that already moved past date/time selection.
	if state := wz.State(); state != StateSelectingDateTime {
		h.transitionError(w, "slot_selected", fmt.Errorf("%w: select slot in %s", ErrInvalidTransition, state))
		return
	}
	var req selectSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	date, err := time.ParseInLocation(schedule.DateLayout, req.Date, h.now().Location())
	if err != nil {
		jsonError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	if schedule.ShouldDisableDate(h.now(), date, h.cfg.HorizonDays) {
		jsonError(w, http.StatusBadRequest, "date is not bookable")
		return
	}

	start := time.Now()
	conflict, err := h.appts.HasAppointment(r.Context(), sess.PatientID, req.WorkScheduleID)
	h.metrics.ObserveBackendLatency("appointment", time.Since(start).Seconds())
	if err != nil {
		h.logger.Error("conflict check", "error", err, "work_schedule_id", req.WorkScheduleID)
		jsonError(w, http.StatusBadGateway, "could not verify existing appointments")
		return
	}
	if conflict {
		h.metrics.ObserveConflictCheck("conflict")
		wz.ClearSlot()
		jsonError(w, http.StatusConflict, "you already have an appointment in this time slot")
		return
	}
	h.metrics.ObserveConflictCheck("clear")

	if err := wz.SelectSlot(req.Date, req.ShiftID, req.ShiftLabel, req.WorkScheduleID); err != nil {
		h.transitionError(w, "slot_selected", err)
		return
	}
	writeJSON(w, http.StatusOK, h.stateResponse(sess.PatientID, wz))
}

type continueRequest struct {
	Note string `json:"note"`
}

// Continue moves a complete selection into the payment step: resolves the
// fee, builds the QR payload and transaction code, and starts the payment
// watch whose confirmation creates the appointment exactly once.
func (h *Handler) Continue(w http.ResponseWriter, r *http.Request) {
	sess, wz, ok := h.wizard(w, r)
	if !ok {
		return
	}
	var req continueRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Note != "" {
		wz.SetNote(req.Note)
	}

	sel := wz.Selection()
	if !sel.Complete() {
		h.metrics.ObserveTransition(StateAwaitingPayment.String(), "blocked")
		jsonError(w, http.StatusConflict, "date, shift and work schedule must be selected first")
		return
	}

	paySess, err := payment.NewSession(r.Context(), h.catalog, sel.ServiceName, sel.WorkScheduleID,
		sess.PatientID, h.cfg.BankCode, h.cfg.BankAccountNumber, h.cfg.DefaultPriceCents, h.cfg.Currency)
	if err != nil {
		h.logger.Error("payment session", "error", err)
		jsonError(w, http.StatusBadGateway, "could not determine the appointment fee")
		return
	}

	patientID := sess.PatientID
	watch := h.watcher.Start(context.Background(), paySess, patientID, func(transactionCode string) error {
		return h.completeBooking(patientID, wz, transactionCode)
	})

	if err := wz.EnterPayment(paySess, watch.Stop); err != nil {
		watch.Stop()
		h.transitionError(w, StateAwaitingPayment.String(), err)
		return
	}
	h.setWatch(patientID, watch)
	h.metrics.ObserveTransition(StateAwaitingPayment.String(), "ok")
	h.logger.Info("payment step entered",
		"patient_id", patientID,
		"transaction_code", paySess.TransactionCode,
		"amount_cents", paySess.AmountCents,
	)
	writeJSON(w, http.StatusOK, h.stateResponse(patientID, wz))
}

// completeBooking runs on the payment watch goroutine after a verified
// payment. It creates the appointment and finishes the wizard; the watch
// guarantees it is invoked at most once per payment session.
func (h *Handler) completeBooking(patientID string, wz *Wizard, transactionCode string) error {
	// The user may have left the payment step while this confirmation was in
	// flight; once the wizard has moved on, no appointment may be created.
	if state := wz.State(); state != StateAwaitingPayment {
		h.metrics.ObservePaymentConfirmation("state_mismatch")
		return fmt.Errorf("payment step already left (%s), appointment not created", state)
	}
	sel := wz.Selection()
	paySess := wz.PaymentSession()
	var amount int64
	if paySess != nil {
		amount = paySess.AmountCents
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	created, err := h.appts.Create(ctx, appointment.CreateRequest{
		PatientID:       patientID,
		DoctorID:        sel.DoctorID,
		WorkScheduleID:  sel.WorkScheduleID,
		ServiceName:     sel.ServiceName,
		Date:            sel.Date,
		ShiftID:         sel.ShiftID,
		TransactionCode: transactionCode,
		AmountCents:     amount,
		Note:            sel.Note,
	})
	h.metrics.ObserveBackendLatency("appointment", time.Since(start).Seconds())
	if err != nil {
		h.metrics.ObservePaymentConfirmation("create_failed")
		h.logger.Error("appointment creation after payment failed",
			"patient_id", patientID, "transaction_code", transactionCode, "error", err)
		return err
	}
	h.mu.Lock()
	if res, ok := h.results[patientID]; ok {
		res.appointment = created
	}
	h.mu.Unlock()
	if err := wz.ConfirmPayment(); err != nil {
		// The appointment exists in the backend; keep it visible and leave a
		// loud trail for staff reconciliation instead of swallowing it.
		h.metrics.ObservePaymentConfirmation("state_mismatch")
		h.logger.Error("appointment created but wizard left the payment step",
			"patient_id", patientID, "appointment_id", created.ID, "transaction_code", transactionCode)
		return fmt.Errorf("appointment %s created but booking step was already left: %w", created.ID, err)
	}
	h.metrics.ObservePaymentConfirmation("confirmed")
	h.metrics.ObserveTransition(StateConfirmed.String(), "ok")
	h.logger.Info("booking confirmed",
		"patient_id", patientID, "appointment_id", created.ID, "transaction_code", transactionCode)
	return nil
}

// Back steps the wizard backwards, tearing down the payment step if active.
func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	sess, wz, ok := h.wizard(w, r)
	if !ok {
		return
	}
	wasPayment := wz.State() == StateAwaitingPayment
	if err := wz.Back(); err != nil {
		h.transitionError(w, "back", err)
		return
	}
	if wasPayment {
		h.dropResult(sess.PatientID)
	}
	writeJSON(w, http.StatusOK, h.stateResponse(sess.PatientID, wz))
}

// Cancel terminates the wizard and releases any payment resources.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	sess, wz, ok := h.wizard(w, r)
	if !ok {
		return
	}
	if err := wz.Cancel(); err != nil {
		h.transitionError(w, "cancel", err)
		return
	}
	h.dropResult(sess.PatientID)
	h.metrics.ObserveTransition(StateCancelled.String(), "ok")
	h.logger.Info("wizard cancelled", "patient_id", sess.PatientID)
	writeJSON(w, http.StatusOK, h.stateResponse(sess.PatientID, wz))
}

func (h *Handler) wizard(w http.ResponseWriter, r *http.Request) (session.Session, *Wizard, bool) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		jsonError(w, http.StatusUnauthorized, "missing session")
		return session.Session{}, nil, false
	}
	wz, ok := h.store.Get(sess.PatientID)
	if !ok {
		jsonError(w, http.StatusNotFound, "no active booking")
		return sess, nil, false
	}
	return sess, wz, true
}

func (h *Handler) setWatch(patientID string, watch *payment.Watch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results[patientID] = &bookingResult{watch: watch}
}

func (h *Handler) dropResult(patientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.results, patientID)
}

// stateResponse is the wizard snapshot returned by every endpoint.
func (h *Handler) stateResponse(patientID string, wz *Wizard) map[string]any {
	resp := map[string]any{
		"state":     wz.State().String(),
		"selection": wz.Selection(),
	}
	if paySess := wz.PaymentSession(); paySess != nil {
		resp["payment"] = paySess
	}
	h.mu.Lock()
	if res, ok := h.results[patientID]; ok {
		if res.appointment != nil {
			resp["appointment"] = res.appointment
		}
		if res.watch != nil {
			if err := res.watch.Err(); err != nil {
				resp["paymentError"] = "payment received but the appointment could not be created; please contact the clinic"
			}
		}
	}
	h.mu.Unlock()
	return resp
}

func (h *Handler) transitionError(w http.ResponseWriter, to string, err error) {
	switch {
	case errors.Is(err, ErrIncompleteSelection):
		h.metrics.ObserveTransition(to, "blocked")
		jsonError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrTerminal), errors.Is(err, ErrInvalidTransition):
		h.metrics.ObserveTransition(to, "invalid")
		jsonError(w, http.StatusConflict, err.Error())
	default:
		h.metrics.ObserveTransition(to, "error")
		jsonError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
