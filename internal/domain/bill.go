package domain

import "time"

// BillItem is a single invoice line.
type BillItem struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// Bill is the input of the invoice endpoints. TaxPercent applies to the
// sum of item amounts.
type Bill struct {
	CompanyName string     `json:"company_name"`
	Items       []BillItem `json:"items"`
	TaxPercent  float64    `json:"tax"`
}

type BillSummary struct {
	Subtotal   float64 `json:"subtotal"`
	Tax        float64 `json:"tax"`
	GrandTotal float64 `json:"grandTotal"`
}

// BookingRecord is produced when a booking is confirmed. It is not stored
// beyond the rendered bill.
type BookingRecord struct {
	OrderID  string
	UserID   string
	Booking  BookingData
	Quote    Quote
	BillURL  string
	IssuedAt time.Time
}
