// Package freight prices shipments across sea and air modes.
package freight

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"captain-agent/internal/domain"
)

const (
	DefaultWeightKg = 500.0
	// DefaultDistanceKm applies on the quote path when no distance is known.
	DefaultDistanceKm = 8000.0

	seaBase       = 15000.0
	seaPerKg      = 25.0
	seaPerKm      = 1.2
	expressFactor = 1.15
	airBase       = 45000.0
	airPerKg      = 180.0
	airPerKm      = 4.5

	// kg CO2e per kg·km, converted to tonnes below.
	seaEmissionFactor = 0.000015
	airEmissionFactor = 0.000285
)

// Estimate prices req. A nil distance falls back to DefaultDistanceKm.
func Estimate(req domain.ShipmentRequest) domain.Quote {
	return EstimateWithFallback(req, DefaultDistanceKm)
}

// EstimateWithFallback prices req using fallbackKm when req carries no
// distance. Non-positive weights and distances are treated as missing.
func EstimateWithFallback(req domain.ShipmentRequest, fallbackKm float64) domain.Quote {
	weight := DefaultWeightKg
	if req.WeightKg != nil && *req.WeightKg > 0 {
		weight = *req.WeightKg
	}
	distance := fallbackKm
	if req.DistanceKm != nil && *req.DistanceKm > 0 {
		distance = *req.DistanceKm
	}

	sea := seaBase + weight*seaPerKg + distance*seaPerKm
	air := airBase + weight*airPerKg + distance*airPerKm

	recommended := "sea freight (standard)"
	if strings.EqualFold(strings.TrimSpace(req.Timeline), "express") {
		recommended = "air freight"
	}

	return domain.Quote{
		Origin:         req.Origin,
		Destination:    req.Destination,
		WeightKg:       weight,
		DistanceKm:     distance,
		SeaCost:        sea,
		SeaExpressCost: sea * expressFactor,
		AirCost:        air,
		CO2eSea:        weight * distance * seaEmissionFactor / 1000,
		CO2eAir:        weight * distance * airEmissionFactor / 1000,
		Recommended:    recommended,
	}
}

var printer = message.NewPrinter(language.English)

// Format renders q as the multi-line quote shown to users.
func Format(q domain.Quote) string {
	origin := orDefault(q.Origin, "origin TBD")
	destination := orDefault(q.Destination, "destination TBD")

	var b strings.Builder
	fmt.Fprintf(&b, "Freight quote: %s to %s (%s kg, %s km)\n",
		origin, destination, amount(q.WeightKg), amount(q.DistanceKm))
	fmt.Fprintf(&b, "- Sea freight (standard): %s\n", amount(q.SeaCost))
	fmt.Fprintf(&b, "- Sea freight (express): %s\n", amount(q.SeaExpressCost))
	fmt.Fprintf(&b, "- Air freight: %s\n", amount(q.AirCost))
	fmt.Fprintf(&b, "Estimated emissions: sea %.2f t CO2e, air %.2f t CO2e\n", q.CO2eSea, q.CO2eAir)
	if q.Recommended != "" {
		fmt.Fprintf(&b, "Recommended: %s", q.Recommended)
	}
	return strings.TrimRight(b.String(), "\n")
}

func amount(v float64) string {
	return printer.Sprintf("%d", int64(math.Round(v)))
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
