// Package booking implements the appointment booking wizard: a linear state
// machine that accumulates a selection step by step, hands off to a payment
// session, and completes with appointment creation.
package booking

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/vietcare/booking-gateway/internal/payment"
)

// State is the wizard's position in the booking flow.
type State int

const (
	StateSelectingService State = iota
	StateSelectingDoctor
	StateSelectingDateTime
	StateAwaitingPayment
	StateConfirmed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateSelectingService:
		return "selecting_service"
	case StateSelectingDoctor:
		return "selecting_doctor"
	case StateSelectingDateTime:
		return "selecting_datetime"
	case StateAwaitingPayment:
		return "awaiting_payment"
	case StateConfirmed:
		return "confirmed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrInvalidTransition is returned when an operation does not apply to
	// the wizard's current state.
	ErrInvalidTransition = errors.New("booking: invalid transition")
	// ErrIncompleteSelection blocks the continue transition while any
	// required selection is missing.
	ErrIncompleteSelection = errors.New("booking: selection incomplete")
	// ErrTerminal is returned for operations on a finished wizard.
	ErrTerminal = errors.New("booking: wizard finished")
)

// Selection accumulates the patient's choices across steps. It lives for one
// booking session and is discarded on cancel or completion.
type Selection struct {
	ServiceID   string `json:"serviceId" validate:"required"`
	ServiceName string `json:"serviceName" validate:"required"`
	DoctorID    string `json:"doctorId" validate:"required"`
	DoctorName  string `json:"doctorName" validate:"required"`
	// Date in YYYY-MM-DD form.
	Date           string `json:"date" validate:"required"`
	ShiftID        string `json:"shiftId" validate:"required"`
	ShiftLabel     string `json:"shiftLabel" validate:"required"`
	WorkScheduleID string `json:"workScheduleId" validate:"required"`
	Note           string `json:"note"`
}

var validate = validator.New()

// Complete reports whether every required field of the selection is set.
func (s Selection) Complete() bool {
	return validate.Struct(s) == nil
}

// PaymentTeardown releases the resources of an active payment session.
type PaymentTeardown func()

// Wizard is one patient's booking flow. All methods are safe for concurrent
// use; handler retries and the payment watcher may race.
type Wizard struct {
	mu        sync.Mutex
	state     State
	selection Selection

	paymentSession  *payment.Session
	paymentTeardown PaymentTeardown
}

// NewWizard starts a fresh wizard in the service-selection step.
func NewWizard() *Wizard {
	return &Wizard{state: StateSelectingService}
}

// State returns the current step.
func (wz *Wizard) State() State {
	wz.mu.Lock()
	defer wz.mu.Unlock()
	return wz.state
}

// Selection returns a copy of the accumulated selection.
func (wz *Wizard) Selection() Selection {
	wz.mu.Lock()
	defer wz.mu.Unlock()
	return wz.selection
}

// PaymentSession returns the active payment session, if any.
func (wz *Wizard) PaymentSession() *payment.Session {
	wz.mu.Lock()
	defer wz.mu.Unlock()
	return wz.paymentSession
}

// SelectService records the service and advances to doctor selection.
func (wz *Wizard) SelectService(id, name string) error {
	wz.mu.Lock()
	defer wz.mu.Unlock()
	if wz.state != StateSelectingService {
		return fmt.Errorf("%w: select service in %s", ErrInvalidTransition, wz.state)
	}
	if id == "" || name == "" {
		return fmt.Errorf("%w: service required", ErrIncompleteSelection)
	}
	wz.selection.ServiceID = id
	wz.selection.ServiceName = name
	wz.state = StateSelectingDoctor
	return nil
}

// SelectDoctor records the doctor and advances to date/time selection.
// A new doctor invalidates any previously picked slot.
func (wz *Wizard) SelectDoctor(id, name string) error {
	wz.mu.Lock()
	defer wz.mu.Unlock()
	if wz.state != StateSelectingDoctor {
		return fmt.Errorf("%w: select doctor in %s", ErrInvalidTransition, wz.state)
	}
	if id == "" || name == "" {
		return fmt.Errorf("%w: doctor required", ErrIncompleteSelection)
	}
	wz.selection.DoctorID = id
	wz.selection.DoctorName = name
	wz.clearSlotLocked()
	wz.state = StateSelectingDateTime
	return nil
}

// SelectSlot records a conflict-cleared date/shift/work-schedule choice. The
// caller performs the conflict check before committing the selection here.
func (wz *Wizard) SelectSlot(date, shiftID, shiftLabel, workScheduleID string) error {
	wz.mu.Lock()
	defer wz.mu.Unlock()
	if wz.state != StateSelectingDateTime {
		return fmt.Errorf("%w: select slot in %s", ErrInvalidTransition, wz.state)
	}
	if date == "" || shiftID == "" || workScheduleID == "" {
		return fmt.Errorf("%w: date, shift and work schedule required", ErrIncompleteSelection)
	}
	wz.selection.Date = date
	wz.selection.ShiftID = shiftID
	wz.selection.ShiftLabel = shiftLabel
	wz.selection.WorkScheduleID = workScheduleID
	return nil
}

// ClearSlot drops the slot choice, e.g. after a conflict was detected.
func (wz *Wizard) ClearSlot() {
	wz.mu.Lock()
	defer wz.mu.Unlock()
	wz.clearSlotLocked()
}

func (wz *Wizard) clearSlotLocked() {
	wz.selection.Date = ""
	wz.selection.ShiftID = ""
	wz.selection.ShiftLabel = ""
	wz.selection.WorkScheduleID = ""
}

// SetNote attaches a free-text note to the booking.
func (wz *Wizard) SetNote(note string) {
	wz.mu.Lock()
	defer wz.mu.Unlock()
	wz.selection.Note = note
}

// EnterPayment advances to the payment step. It refuses to move while any
// required selection is missing, and adopts the payment session together with
// its teardown so back/cancel can release it deterministically.
func (wz *Wizard) EnterPayment(sess *payment.Session, teardown PaymentTeardown) error {
	wz.mu.Lock()
	defer wz.mu.Unlock()
	if wz.state != StateSelectingDateTime {
		return fmt.Errorf("%w: continue in %s", ErrInvalidTransition, wz.state)
	}
	if err := validate.Struct(wz.selection); err != nil {
		return fmt.Errorf("%w: %v", ErrIncompleteSelection, err)
	}
	wz.paymentSession = sess
	wz.paymentTeardown = teardown
	wz.state = StateAwaitingPayment
	return nil
}

// ConfirmPayment completes the wizard after the backend confirmed appointment
// creation for a verified payment. It runs on the payment watcher's
// goroutine, so the teardown is released asynchronously; Stop would otherwise
// wait on the goroutine invoking it.
func (wz *Wizard) ConfirmPayment() error {
	wz.mu.Lock()
	if wz.state != StateAwaitingPayment {
		wz.mu.Unlock()
		return fmt.Errorf("%w: confirm in %s", ErrInvalidTransition, wz.state)
	}
	wz.state = StateConfirmed
	teardown := wz.takeTeardownLocked()
	wz.mu.Unlock()

	if teardown != nil {
		go teardown()
	}
	return nil
}

// Back steps the wizard one stage backwards. The first and terminal states
// have no back transition. Leaving the payment step tears the session down
// before Back returns.
func (wz *Wizard) Back() error {
	wz.mu.Lock()
	var teardown PaymentTeardown
	switch wz.state {
	case StateSelectingDoctor:
		wz.state = StateSelectingService
	case StateSelectingDateTime:
		wz.state = StateSelectingDoctor
	case StateAwaitingPayment:
		teardown = wz.takeTeardownLocked()
		wz.paymentSession = nil
		wz.state = StateSelectingDateTime
	case StateConfirmed, StateCancelled:
		wz.mu.Unlock()
		return fmt.Errorf("%w: back", ErrTerminal)
	default:
		state := wz.state
		wz.mu.Unlock()
		return fmt.Errorf("%w: back in %s", ErrInvalidTransition, state)
	}
	wz.mu.Unlock()

	if teardown != nil {
		teardown()
	}
	return nil
}

// Cancel terminates the wizard, releasing the payment session and discarding
// the accumulated selection. Teardown completes before Cancel returns.
func (wz *Wizard) Cancel() error {
	wz.mu.Lock()
	if wz.state == StateConfirmed || wz.state == StateCancelled {
		wz.mu.Unlock()
		return fmt.Errorf("%w: cancel", ErrTerminal)
	}
	teardown := wz.takeTeardownLocked()
	wz.paymentSession = nil
	wz.selection = Selection{}
	wz.state = StateCancelled
	wz.mu.Unlock()

	if teardown != nil {
		teardown()
	}
	return nil
}

// takeTeardownLocked detaches the teardown so it runs exactly once. The
// payment session itself survives confirmation for the summary view.
func (wz *Wizard) takeTeardownLocked() PaymentTeardown {
	teardown := wz.paymentTeardown
	wz.paymentTeardown = nil
	return teardown
}
