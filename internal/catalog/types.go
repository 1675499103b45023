// Package catalog contains the disease/service catalog client and its types.
package catalog

// Service represents a bookable clinic service (a disease specialty).
type Service struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

// Doctor represents a doctor offering a service.
type Doctor struct {
	ID        string `json:"id"`
	FullName  string `json:"fullName"`
	Title     string `json:"title,omitempty"`
	Specialty string `json:"specialty,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Active    bool   `json:"active"`
}

// Price is a fee row looked up by service/type name.
type Price struct {
	Type        string `json:"type"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency,omitempty"`
}

// DiseaseRequest carries create/update fields for a disease type.
type DiseaseRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
}

// ImportResult summarizes a catalog import passthrough.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}
