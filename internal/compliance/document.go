package compliance

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"captain-agent/internal/domain"
)

const (
	summaryLimit = 500
	notFound     = "N/A"
)

var (
	hsnRe     = regexp.MustCompile(`(?i)H\.?S\.?N\.?\s*Code[:\-]?\s*([0-9]{4,8})`)
	productRe = regexp.MustCompile(`(?i)Product\s*[:\-]?[ \t]*([\w \t]+)`)
	weightRe  = regexp.MustCompile(`(?i)Weight\s*[:\-]?[ \t]*([\d.]+[ \t]*[A-Za-z]*)`)
)

var pdfMagic = []byte("%PDF-")

// ExtractText returns the text of a document. PDFs are parsed; anything
// else is treated as UTF-8 text.
func ExtractText(name string, data []byte) (string, error) {
	if !bytes.HasPrefix(data, pdfMagic) && !strings.EqualFold(extension(name), ".pdf") {
		return strings.TrimSpace(string(data)), nil
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("compliance: ExtractText: open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("compliance: ExtractText: read text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("compliance: ExtractText: read text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// AnalyzeDocument extracts key fields from an uploaded document and checks
// that the mandatory ones are present.
func AnalyzeDocument(name string, data []byte) (domain.DocumentReport, error) {
	text, err := ExtractText(name, data)
	if err != nil {
		return domain.DocumentReport{}, err
	}
	fields := ExtractKeyFields(text)
	return domain.DocumentReport{
		FileName:     name,
		Summary:      truncate(text, summaryLimit),
		KeyFields:    fields,
		Verification: Verify(fields),
	}, nil
}

// ExtractKeyFields pulls product name, HSN code and weight out of free
// text. Fields that cannot be found are reported as "N/A".
func ExtractKeyFields(text string) map[string]string {
	return map[string]string{
		"product_name": firstGroup(productRe, text),
		"hsn_code":     firstGroup(hsnRe, text),
		"weight":       firstGroup(weightRe, text),
	}
}

// Verify reports which mandatory fields are missing.
func Verify(fields map[string]string) domain.DocumentVerification {
	var missing []string
	for _, k := range []string{"product_name", "hsn_code", "weight"} {
		if v, ok := fields[k]; !ok || v == notFound {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return domain.DocumentVerification{Status: "Verified", MissingFields: []string{}, Remarks: "All mandatory fields present"}
	}
	return domain.DocumentVerification{Status: "Incomplete", MissingFields: missing, Remarks: "Missing key details"}
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return notFound
	}
	if v := strings.TrimSpace(m[1]); v != "" {
		return v
	}
	return notFound
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func extension(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}
