// Package schedule contains the work-schedule client and the slot selection
// rules applied before a work schedule may be booked.
package schedule

// Shift is a named time-of-day interval, e.g. morning or afternoon.
// Start and End are wall-clock times in "15:04" form.
type Shift struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// WorkSchedule is a doctor's bookable slot on a specific date.
// Multiple rows may share the same shift; they are grouped before display.
type WorkSchedule struct {
	ID        string `json:"id"`
	DoctorID  string `json:"doctorId"`
	Date      string `json:"date"` // YYYY-MM-DD
	Shift     Shift  `json:"shift"`
	Status    string `json:"status"` // active | inactive
	Remaining int    `json:"remaining"`
}

// DateOption is one calendar day of the picker with its bookability.
type DateOption struct {
	Date      string `json:"date"`
	Available bool   `json:"available"`
}

// SlotOption is one selectable shift for a doctor+date after grouping.
type SlotOption struct {
	WorkScheduleID string `json:"workScheduleId"`
	Shift          Shift  `json:"shift"`
	Remaining      int    `json:"remaining"`
	Disabled       bool   `json:"disabled"`
	DisabledReason string `json:"disabledReason,omitempty"`
}
