package domain

// ComplianceStatus is the overall verdict of a compliance check.
type ComplianceStatus string

const (
	ComplianceVerified          ComplianceStatus = "VERIFIED"
	ComplianceAttentionRequired ComplianceStatus = "ATTENTION REQUIRED"
)

// ComplianceVerdict is derived on every check and never persisted.
type ComplianceVerdict struct {
	Summary          string           `json:"summary"`
	Category         string           `json:"category,omitempty"`
	Hazardous        bool             `json:"hazardous"`
	Fragile          bool             `json:"fragile"`
	Restricted       bool             `json:"restricted"`
	MissingDocuments []string         `json:"missingDocuments"`
	SuggestedCode    string           `json:"suggestedCode,omitempty"`
	Status           ComplianceStatus `json:"status"`
}

// DocumentReport is the result of analysing an uploaded trade document.
type DocumentReport struct {
	FileName     string               `json:"fileName"`
	Summary      string               `json:"summary"`
	KeyFields    map[string]string    `json:"keyFields"`
	Verification DocumentVerification `json:"verification"`
}

type DocumentVerification struct {
	Status        string   `json:"status"`
	MissingFields []string `json:"missingFields"`
	Remarks       string   `json:"remarks"`
}
