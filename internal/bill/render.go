// Package bill renders booking confirmations and invoices to PDF and
// stores the results.
package bill

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"captain-agent/internal/domain"
)

var errNoItems = errors.New("bill: at least one item is required")

// Renderer draws PDFs. The zero value is not usable; call NewRenderer.
type Renderer struct {
	now func() time.Time
}

type RendererOption func(*Renderer)

// WithClock overrides the time printed on documents.
func WithClock(now func() time.Time) RendererOption {
	return func(r *Renderer) { r.now = now }
}

func NewRenderer(opts ...RendererOption) *Renderer {
	r := &Renderer{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Summarize computes the invoice totals, rounded to cents.
func Summarize(b domain.Bill) domain.BillSummary {
	var subtotal float64
	for _, it := range b.Items {
		subtotal += it.Amount
	}
	tax := subtotal * b.TaxPercent / 100
	return domain.BillSummary{
		Subtotal:   round2(subtotal),
		Tax:        round2(tax),
		GrandTotal: round2(subtotal + tax),
	}
}

// Validate rejects invoices that cannot be rendered meaningfully.
func Validate(b domain.Bill) error {
	if len(b.Items) == 0 {
		return errNoItems
	}
	if b.TaxPercent < 0 {
		return errors.New("bill: tax must not be negative")
	}
	for i, it := range b.Items {
		if strings.TrimSpace(it.Description) == "" {
			return fmt.Errorf("bill: item %d: description is required", i+1)
		}
		if it.Amount < 0 || math.IsNaN(it.Amount) || math.IsInf(it.Amount, 0) {
			return fmt.Errorf("bill: item %d: invalid amount", i+1)
		}
	}
	return nil
}

// RenderInvoice draws a "Laid Bill / Invoice" document.
func (r *Renderer) RenderInvoice(b domain.Bill) ([]byte, domain.BillSummary, error) {
	if err := Validate(b); err != nil {
		return nil, domain.BillSummary{}, err
	}
	sum := Summarize(b)
	company := strings.TrimSpace(b.CompanyName)
	if company == "" {
		company = "N/A"
	}

	pdf := newDocument("Laid Bill / Invoice")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 7, "Company: "+company, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, "Date: "+r.now().Format("02-01-2006"), "", 1, "L", false, 0, "")
	rule(pdf)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(120, 8, "Description", "B", 0, "L", false, 0, "")
	pdf.CellFormat(0, 8, "Amount", "B", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	for _, it := range b.Items {
		pdf.CellFormat(120, 7, it.Description, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, money(it.Amount), "", 1, "R", false, 0, "")
	}
	rule(pdf)

	pdf.CellFormat(120, 7, "Subtotal", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 7, money(sum.Subtotal), "", 1, "R", false, 0, "")
	pdf.CellFormat(120, 7, fmt.Sprintf("Tax (%g%%)", b.TaxPercent), "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 7, money(sum.Tax), "", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(120, 8, "Total (INR)", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 8, money(sum.GrandTotal), "", 1, "R", false, 0, "")

	out, err := output(pdf)
	if err != nil {
		return nil, domain.BillSummary{}, err
	}
	return out, sum, nil
}

// RenderBooking draws the confirmation issued when a booking is accepted.
func (r *Renderer) RenderBooking(rec domain.BookingRecord) ([]byte, error) {
	if strings.TrimSpace(rec.OrderID) == "" {
		return nil, errors.New("bill: order id is required")
	}
	issued := rec.IssuedAt
	if issued.IsZero() {
		issued = r.now()
	}

	pdf := newDocument("Captain Booking Confirmation")
	pdf.SetFont("Helvetica", "", 12)
	rows := [][2]string{
		{"Order ID", rec.OrderID},
		{"Issued", issued.UTC().Format("02-01-2006 15:04 MST")},
		{"Origin", deref(rec.Booking.Origin)},
		{"Destination", deref(rec.Booking.Destination)},
		{"Cargo", deref(rec.Booking.Cargo)},
		{"Weight", fmt.Sprintf("%s kg", money(rec.Quote.WeightKg))},
		{"Distance", fmt.Sprintf("%s km", money(rec.Quote.DistanceKm))},
	}
	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(45, 7, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 12)
		pdf.CellFormat(0, 7, row[1], "", 1, "L", false, 0, "")
	}
	rule(pdf)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Quoted rates (INR)", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	for _, row := range [][2]string{
		{"Sea freight (standard)", money(rec.Quote.SeaCost)},
		{"Sea freight (express)", money(rec.Quote.SeaExpressCost)},
		{"Air freight", money(rec.Quote.AirCost)},
	} {
		pdf.CellFormat(120, 7, row[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, row[1], "", 1, "R", false, 0, "")
	}
	pdf.CellFormat(0, 7, fmt.Sprintf("Estimated emissions: sea %.2f t CO2e, air %.2f t CO2e", rec.Quote.CO2eSea, rec.Quote.CO2eAir), "", 1, "L", false, 0, "")
	if rec.Quote.Recommended != "" {
		pdf.CellFormat(0, 7, "Recommended: "+rec.Quote.Recommended, "", 1, "L", false, 0, "")
	}

	return output(pdf)
}

func newDocument(title string) *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, false)
	pdf.SetCreator("Captain", false)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")
	pdf.Ln(2)
	return pdf
}

func rule(pdf *fpdf.Fpdf) {
	left, _, right, _ := pdf.GetMargins()
	w, _ := pdf.GetPageSize()
	y := pdf.GetY() + 2
	pdf.Line(left, y, w-right, y)
	pdf.SetY(y + 4)
}

func output(pdf *fpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("bill: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func deref(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return "-"
	}
	return *s
}
