package domain

// Action is the closed vocabulary the LLM decision step may choose from.
type Action string

const (
	ActionUpdateInfo     Action = "UPDATE_INFO"
	ActionGenerateQuote  Action = "GENERATE_QUOTE"
	ActionConfirmBooking Action = "CONFIRM_BOOKING"
	ActionCancelBooking  Action = "CANCEL_BOOKING"
	ActionGeneralQuery   Action = "GENERAL_QUERY"
)

// Actions lists every known action in prompt order.
var Actions = []Action{
	ActionUpdateInfo,
	ActionGenerateQuote,
	ActionConfirmBooking,
	ActionCancelBooking,
	ActionGeneralQuery,
}

func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// ExtractedData holds the structured fields the model pulled out of the
// latest message. Every field is optional.
type ExtractedData struct {
	Origin      *string
	Destination *string
	Cargo       *string
	Weight      *float64
	DistanceKm  *float64
}

// Decision is the validated outcome of one LLM decision call.
type Decision struct {
	Action    Action
	Extracted ExtractedData
	Reply     string
}
