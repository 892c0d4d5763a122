// Package compliance screens cargo for trade-compliance issues and analyses
// uploaded trade documents.
package compliance

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"captain-agent/internal/domain"
)

// RequiredDocuments must all be present for a shipment to be VERIFIED.
var RequiredDocuments = []string{
	"bill_of_lading",
	"commercial_invoice",
	"packing_list",
	"certificate_of_origin",
}

const DefaultHSCode = "9999.99.99"

// MaxDocumentBytes caps how much of a trade document is read.
const MaxDocumentBytes = 10 << 20

type pattern struct {
	label string
	re    *regexp.Regexp
}

// Categories are tried in order; the first match wins.
var categories = []pattern{
	{"chemical", regexp.MustCompile(`(?i)chemical|acid|solvent|paint|fertili[sz]er`)},
	{"food", regexp.MustCompile(`(?i)food|spice|rice|tea\b|coffee|fruit|grain`)},
	{"electronics", regexp.MustCompile(`(?i)electronic|mobile|phone|laptop|computer|semiconductor`)},
	{"metal", regexp.MustCompile(`(?i)copper|steel|iron|alumin(i)?um|metal`)},
}

var (
	hazardousRe  = regexp.MustCompile(`(?i)chemical|acid|hazard|explosive|flammable`)
	fragileRe    = regexp.MustCompile(`(?i)glass|fragile|electronic|delicate`)
	restrictedRe = regexp.MustCompile(`(?i)weapon|ivory|endangered|narcotic`)
)

// hsCodes is ordered: copper goods must win over the generic steel entry.
var hsCodes = []pattern{
	{"7408.19.00", regexp.MustCompile(`(?i)copper`)},
	{"7308.90.90", regexp.MustCompile(`(?i)steel`)},
	{"5208.52.00", regexp.MustCompile(`(?i)textile|fabric`)},
	{"0910.99.00", regexp.MustCompile(`(?i)food|spice`)},
	{"2811.19.90", regexp.MustCompile(`(?i)chemical`)},
	{"8517.13.00", regexp.MustCompile(`(?i)electronic|mobile`)},
}

// Checker is the deterministic keyword checker. It holds no mutable state
// and is safe for concurrent use.
type Checker struct {
	required []string
	docDir   string
}

type CheckerOption func(*Checker)

// WithDocumentDir enables document mode for files inside dir. Without it
// every cargo description is classified as text.
func WithDocumentDir(dir string) CheckerOption {
	return func(c *Checker) {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		c.docDir = abs
	}
}

func NewChecker(opts ...CheckerOption) *Checker {
	c := &Checker{required: RequiredDocuments}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check returns the verdict for cargo given the provided document names.
// When cargo names a file inside the document directory the document is
// read instead and the verdict acknowledges what was extracted.
func (c *Checker) Check(_ context.Context, cargo string, docs []string) domain.ComplianceVerdict {
	if path, ok := c.documentPath(cargo); ok {
		return c.checkDocument(path)
	}
	return c.Heuristic(cargo, docs)
}

// documentPath resolves cargo to a regular file inside the document
// directory. Relative names are taken relative to that directory.
func (c *Checker) documentPath(cargo string) (string, bool) {
	name := strings.TrimSpace(cargo)
	if c.docDir == "" || name == "" {
		return "", false
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(c.docDir, name)
	}
	path, err := filepath.EvalSymlinks(filepath.Clean(name))
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(c.docDir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if !isFile(path) {
		return "", false
	}
	return path, true
}

// Heuristic classifies cargo text without touching the filesystem.
func (c *Checker) Heuristic(cargo string, docs []string) domain.ComplianceVerdict {
	v := domain.ComplianceVerdict{
		Category:         classify(cargo),
		Hazardous:        hazardousRe.MatchString(cargo),
		Fragile:          fragileRe.MatchString(cargo),
		Restricted:       restrictedRe.MatchString(cargo),
		MissingDocuments: c.missing(docs),
		SuggestedCode:    suggestCode(cargo),
	}
	v.Status = domain.ComplianceAttentionRequired
	if len(v.MissingDocuments) == 0 && !v.Hazardous && !v.Restricted {
		v.Status = domain.ComplianceVerified
	}
	v.Summary = summarize(cargo, v)
	return v
}

func (c *Checker) checkDocument(path string) domain.ComplianceVerdict {
	data, err := readDocument(path)
	if err != nil {
		return domain.ComplianceVerdict{
			Summary: fmt.Sprintf("Could not read document %s.", filepath.Base(path)),
			Status:  domain.ComplianceAttentionRequired,
		}
	}
	text, err := ExtractText(filepath.Base(path), data)
	if err != nil {
		text = ""
	}
	v := domain.ComplianceVerdict{
		Category: "document",
		Status:   domain.ComplianceVerified,
		Summary: fmt.Sprintf("Received document %s: %d bytes, %d characters of text extracted.",
			filepath.Base(path), len(data), len(text)),
	}
	if strings.TrimSpace(text) == "" {
		v.Status = domain.ComplianceAttentionRequired
	}
	return v
}

func (c *Checker) missing(docs []string) []string {
	provided := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		provided[NormalizeDocument(d)] = struct{}{}
	}
	var out []string
	for _, req := range c.required {
		if _, ok := provided[req]; !ok {
			out = append(out, req)
		}
	}
	return out
}

// NormalizeDocument lower-cases a document name and joins its words with
// underscores, so "Bill of Lading" matches "bill_of_lading".
func NormalizeDocument(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}

func classify(cargo string) string {
	for _, p := range categories {
		if p.re.MatchString(cargo) {
			return p.label
		}
	}
	return "general cargo"
}

func suggestCode(cargo string) string {
	for _, p := range hsCodes {
		if p.re.MatchString(cargo) {
			return p.label
		}
	}
	return DefaultHSCode
}

func summarize(cargo string, v domain.ComplianceVerdict) string {
	missing := "none"
	if len(v.MissingDocuments) > 0 {
		missing = strings.Join(v.MissingDocuments, ", ")
	}
	subject := strings.TrimSpace(cargo)
	if subject == "" {
		subject = "unspecified cargo"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Compliance check for %q:\n", subject)
	fmt.Fprintf(&b, "- Category: %s\n", v.Category)
	fmt.Fprintf(&b, "- Hazardous: %s | Fragile: %s | Restricted: %s\n", yesNo(v.Hazardous), yesNo(v.Fragile), yesNo(v.Restricted))
	fmt.Fprintf(&b, "- Missing documents: %s\n", missing)
	fmt.Fprintf(&b, "- Suggested HS code: %s\n", v.SuggestedCode)
	fmt.Fprintf(&b, "Status: %s", v.Status)
	return b.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func readDocument(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxDocumentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxDocumentBytes {
		return nil, fmt.Errorf("compliance: document larger than %d bytes", MaxDocumentBytes)
	}
	return data, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
