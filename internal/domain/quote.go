package domain

// ShipmentRequest carries the attributes the rate estimator prices.
// Nil numeric fields fall back to estimator defaults.
type ShipmentRequest struct {
	Origin      string
	Destination string
	WeightKg    *float64
	DistanceKm  *float64
	// Timeline is "express" or "standard"; it only changes the recommendation.
	Timeline string
}

// Quote is a priced freight estimate. Costs are in the quoting currency,
// emissions in tonnes CO2e.
type Quote struct {
	Origin         string  `json:"origin"`
	Destination    string  `json:"destination"`
	WeightKg       float64 `json:"weightKg"`
	DistanceKm     float64 `json:"distanceKm"`
	SeaCost        float64 `json:"seaCost"`
	SeaExpressCost float64 `json:"seaExpressCost"`
	AirCost        float64 `json:"airCost"`
	CO2eSea        float64 `json:"co2eSea"`
	CO2eAir        float64 `json:"co2eAir"`
	Recommended    string  `json:"recommended"`
}
