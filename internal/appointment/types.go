// Package appointment contains the appointment-service client used for
// conflict checks, appointment creation and the refund screens.
package appointment

import "time"

// Appointment mirrors the backend appointment record.
type Appointment struct {
	ID              string    `json:"id"`
	PatientID       string    `json:"patientId"`
	DoctorID        string    `json:"doctorId"`
	WorkScheduleID  string    `json:"workScheduleId"`
	ServiceName     string    `json:"serviceName"`
	Date            string    `json:"date"` // YYYY-MM-DD
	ShiftLabel      string    `json:"shiftLabel"`
	Status          string    `json:"status"` // booked | cancelled | refunded
	TransactionCode string    `json:"transactionCode,omitempty"`
	AmountCents     int64     `json:"amountCents,omitempty"`
	Note            string    `json:"note,omitempty"`
	CreatedAt       time.Time `json:"createdAt,omitempty"`
}

// CreateRequest carries the fields for appointment creation after a verified
// payment.
type CreateRequest struct {
	PatientID       string `json:"patientId" validate:"required"`
	DoctorID        string `json:"doctorId" validate:"required"`
	WorkScheduleID  string `json:"workScheduleId" validate:"required"`
	ServiceName     string `json:"serviceName" validate:"required"`
	Date            string `json:"date" validate:"required"`
	ShiftID         string `json:"shiftId" validate:"required"`
	TransactionCode string `json:"transactionCode" validate:"required"`
	AmountCents     int64  `json:"amountCents"`
	Note            string `json:"note,omitempty"`
}

// RefundRequest marks a cancelled, already-paid appointment as paid back.
type RefundRequest struct {
	BankAccountNumber string `json:"bankAccountNumber" validate:"required"`
	BankCode          string `json:"bankCode" validate:"required"`
	AmountCents       int64  `json:"amountCents" validate:"gt=0"`
	Note              string `json:"note,omitempty"`
}

// BankAccount is the resolved owner of a refund destination account.
type BankAccount struct {
	AccountNumber string `json:"accountNumber"`
	BankCode      string `json:"bankCode"`
	OwnerName     string `json:"ownerName"`
	Valid         bool   `json:"valid"`
}
