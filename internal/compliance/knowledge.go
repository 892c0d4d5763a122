package compliance

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const DefaultThreshold = 0.7

// Document is a trade or logistics guidance entry.
type Document struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Content        string   `json:"content"`
	Category       string   `json:"category"`
	Tags           []string `json:"tags"`
	RelevanceScore float64  `json:"relevanceScore"`
}

// Stats summarises the knowledge base contents.
type Stats struct {
	TotalDocuments int            `json:"totalDocuments"`
	Categories     map[string]int `json:"categories"`
	Threshold      float64        `json:"retrievalThreshold"`
}

// KnowledgeBase is an in-memory keyword-scored document store.
type KnowledgeBase struct {
	mu        sync.RWMutex
	docs      []Document
	threshold float64
}

// NewKnowledgeBase returns a store seeded with the built-in guidance.
// A non-positive threshold selects DefaultThreshold.
func NewKnowledgeBase(threshold float64) *KnowledgeBase {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	docs := make([]Document, len(seedDocuments))
	copy(docs, seedDocuments)
	return &KnowledgeBase{docs: docs, threshold: threshold}
}

// Search returns up to limit documents scoring at least the threshold,
// best first. An empty category matches every document.
func (kb *KnowledgeBase) Search(query, category string, limit int) []Document {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	if limit <= 0 {
		limit = 5
	}

	kb.mu.RLock()
	var out []Document
	for _, d := range kb.docs {
		if category != "" && d.Category != category {
			continue
		}
		if s := score(q, d); s >= kb.threshold {
			d.RelevanceScore = s
			d.Tags = append([]string(nil), d.Tags...)
			out = append(out, d)
		}
	}
	kb.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].RelevanceScore > out[j].RelevanceScore })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Add stores a new document and returns its id.
func (kb *KnowledgeBase) Add(title, content, category string, tags []string) (string, error) {
	title, content, category = strings.TrimSpace(title), strings.TrimSpace(content), strings.TrimSpace(category)
	if title == "" || content == "" {
		return "", errors.New("compliance: Add: title and content are required")
	}
	normalized := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			normalized = append(normalized, t)
		}
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := fmt.Sprintf("custom_%d", len(kb.docs)+1)
	kb.docs = append(kb.docs, Document{
		ID:       id,
		Title:    title,
		Content:  content,
		Category: category,
		Tags:     normalized,
	})
	return id, nil
}

func (kb *KnowledgeBase) Stats() Stats {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	cats := make(map[string]int)
	for _, d := range kb.docs {
		cats[d.Category]++
	}
	return Stats{TotalDocuments: len(kb.docs), Categories: cats, Threshold: kb.threshold}
}

// score expects a lower-cased query.
func score(query string, d Document) float64 {
	words := strings.Fields(query)
	title := strings.ToLower(d.Title)

	var s float64
	for _, w := range words {
		if strings.Contains(title, w) {
			s += 0.3
			break
		}
	}

	content := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(d.Content)) {
		content[w] = struct{}{}
	}
	for _, w := range words {
		if _, ok := content[w]; ok {
			s += 0.2
		}
	}

	for _, tag := range d.Tags {
		if strings.Contains(query, tag) {
			s += 0.1
		}
	}
	if d.Category != "" && strings.Contains(query, d.Category) {
		s += 0.2
	}
	if s > 1 {
		s = 1
	}
	return s
}

var seedDocuments = []Document{
	{
		ID:       "hs_codes_steel",
		Title:    "HS Codes for Steel Products",
		Content:  "Steel products fall under HS Chapter 72-73. Stainless steel articles: 7323.93.90, Carbon steel: 7225.40.00, Steel pipes: 7306.30.00",
		Category: "trade_compliance",
		Tags:     []string{"steel", "hs_code", "classification"},
	},
	{
		ID:       "dgft_notifications",
		Title:    "DGFT Export Notifications",
		Content:  "DGFT notifications for export procedures, documentation requirements, and compliance standards for Indian exports.",
		Category: "trade_compliance",
		Tags:     []string{"dgft", "export", "procedures", "india"},
	},
	{
		ID:       "shipping_documentation",
		Title:    "Required Shipping Documents",
		Content:  "Standard shipping documents: Commercial Invoice, Packing List, Bill of Lading, Certificate of Origin, Insurance Certificate, Export Declaration",
		Category: "documentation",
		Tags:     []string{"documents", "shipping", "export", "import"},
	},
	{
		ID:       "co2e_calculations",
		Title:    "CO2e Emission Calculations",
		Content:  "Sea freight: 0.015 kg CO2e per kg per km. Air freight: 0.285 kg CO2e per kg per km. Road freight: 0.1 kg CO2e per kg per km.",
		Category: "esg",
		Tags:     []string{"carbon", "emissions", "sustainability", "esg"},
	},
	{
		ID:       "port_congestion",
		Title:    "Port Congestion Information",
		Content:  "Major ports and congestion patterns: JNPT (Mumbai) - peak congestion Dec-Mar, Hamburg - peak congestion Oct-Dec, Singapore - generally efficient",
		Category: "logistics",
		Tags:     []string{"ports", "congestion", "delays", "shipping"},
	},
	{
		ID:       "trade_restrictions",
		Title:    "Trade Restrictions and Sanctions",
		Content:  "Current trade restrictions: Steel anti-dumping duties in EU, Textile quotas in US, Electronics BIS certification in India",
		Category: "trade_compliance",
		Tags:     []string{"restrictions", "sanctions", "duties", "quotas"},
	},
	{
		ID:       "payment_methods",
		Title:    "International Payment Methods",
		Content:  "Common payment methods: Letter of Credit (LC), Telegraphic Transfer (TT), Documentary Collection, Open Account, Advance Payment",
		Category: "payments",
		Tags:     []string{"payment", "finance", "lc", "tt"},
	},
	{
		ID:       "insurance_requirements",
		Title:    "Cargo Insurance Requirements",
		Content:  "Standard cargo insurance covers: All Risks, General Average, War Risks. Minimum coverage: 110% of CIF value. Required for most shipments.",
		Category: "insurance",
		Tags:     []string{"insurance", "coverage", "risk", "cargo"},
	},
}
