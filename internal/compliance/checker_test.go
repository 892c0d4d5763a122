package compliance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"captain-agent/internal/domain"
)

func TestHeuristic_AcidWithoutDocuments(t *testing.T) {
	v := NewChecker().Heuristic("sulphuric acid drums", nil)

	require.True(t, v.Hazardous)
	require.Equal(t, "chemical", v.Category)
	require.ElementsMatch(t, RequiredDocuments, v.MissingDocuments)
	require.Equal(t, domain.ComplianceAttentionRequired, v.Status)
	require.Contains(t, v.Summary, "ATTENTION REQUIRED")
}

func TestHeuristic_CopperWireAllDocuments(t *testing.T) {
	docs := []string{"Bill of Lading", " COMMERCIAL_INVOICE", "packing list", "Certificate Of Origin "}
	v := NewChecker().Heuristic("copper wire", docs)

	require.Equal(t, "7408.19.00", v.SuggestedCode)
	require.Equal(t, "metal", v.Category)
	require.Empty(t, v.MissingDocuments)
	require.Equal(t, domain.ComplianceVerified, v.Status)
	require.Contains(t, v.Summary, "Missing documents: none")
}

func TestHeuristic_Flags(t *testing.T) {
	c := NewChecker()

	v := c.Heuristic("glass vases", RequiredDocuments)
	require.True(t, v.Fragile)
	require.False(t, v.Hazardous)
	require.Equal(t, domain.ComplianceVerified, v.Status, "fragile cargo alone is not blocking")

	v = c.Heuristic("carved ivory", RequiredDocuments)
	require.True(t, v.Restricted)
	require.Equal(t, domain.ComplianceAttentionRequired, v.Status)
}

func TestHeuristic_HSCodeOrder(t *testing.T) {
	c := NewChecker()
	cases := map[string]string{
		"copper clad steel wire": "7408.19.00",
		"steel coils":            "7308.90.90",
		"cotton fabric rolls":    "5208.52.00",
		"dried spice mix":        "0910.99.00",
		"industrial chemical":    "2811.19.90",
		"mobile handsets":        "8517.13.00",
		"wooden furniture":       DefaultHSCode,
	}
	for cargo, want := range cases {
		require.Equal(t, want, c.Heuristic(cargo, nil).SuggestedCode, "cargo=%q", cargo)
	}
}

func TestHeuristic_GeneralCargo(t *testing.T) {
	require.Equal(t, "general cargo", NewChecker().Heuristic("wooden furniture", nil).Category)
}

func TestHeuristic_PartialDocuments(t *testing.T) {
	v := NewChecker().Heuristic("tea", []string{"bill_of_lading", "tax_certificate"})
	require.Equal(t, []string{"commercial_invoice", "packing_list", "certificate_of_origin"}, v.MissingDocuments)
}

func TestCheck_Idempotent(t *testing.T) {
	c := NewChecker()
	docs := []string{"bill_of_lading"}
	first := c.Check(context.Background(), "steel pipes", docs)
	second := c.Check(context.Background(), "steel pipes", docs)
	require.Equal(t, first, second)
}

func TestCheck_DocumentMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invoice.txt")
	require.NoError(t, os.WriteFile(path, []byte("Product: Copper Wire\nWeight: 1200 kg"), 0o600))
	c := NewChecker(WithDocumentDir(dir))

	for _, cargo := range []string{path, "invoice.txt", " ./invoice.txt "} {
		v := c.Check(context.Background(), cargo, nil)
		require.Equal(t, "document", v.Category, cargo)
		require.Contains(t, v.Summary, "invoice.txt")
		require.Contains(t, v.Summary, "36 bytes")
		require.Equal(t, domain.ComplianceVerified, v.Status)
	}
}

func TestCheck_FilesOutsideDocumentDirAreText(t *testing.T) {
	root := t.TempDir()
	docs := filepath.Join(root, "docs")
	require.NoError(t, os.Mkdir(docs, 0o755))
	secret := filepath.Join(root, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("do not read"), 0o600))
	require.NoError(t, os.Symlink(secret, filepath.Join(docs, "link.txt")))
	c := NewChecker(WithDocumentDir(docs))

	for _, cargo := range []string{secret, "../secret.txt", "link.txt", docs, "/etc/passwd"} {
		v := c.Check(context.Background(), cargo, nil)
		require.Equal(t, c.Heuristic(cargo, nil), v, cargo)
		require.NotContains(t, v.Summary, "bytes")
	}
}

func TestCheck_NoDocumentDirDisablesDocumentMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoice.txt")
	require.NoError(t, os.WriteFile(path, []byte("Product: Copper Wire"), 0o600))

	v := NewChecker().Check(context.Background(), path, nil)

	require.NotEqual(t, "document", v.Category)
}

func TestCheck_OversizedDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "huge.txt")
	require.NoError(t, os.WriteFile(path, make([]byte, MaxDocumentBytes+1), 0o600))

	v := NewChecker(WithDocumentDir(dir)).Check(context.Background(), "huge.txt", nil)

	require.Equal(t, "Could not read document huge.txt.", v.Summary)
	require.Equal(t, domain.ComplianceAttentionRequired, v.Status)
}

func TestNormalizeDocument(t *testing.T) {
	require.Equal(t, "bill_of_lading", NormalizeDocument("  Bill  of Lading "))
	require.Equal(t, "packing_list", NormalizeDocument("PACKING_LIST"))
}
