package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"captain-agent/internal/domain"
)

const (
	replyParseFailure = "Sorry, I had trouble understanding that. Could you rephrase your request?"
	replyUpstreamDown = "I didn't catch that. Could you please repeat your message?"
)

type decisionPayload struct {
	Action        string            `json:"action"`
	ExtractedData *extractedPayload `json:"extracted_data"`
	Reply         string            `json:"reply"`
}

type extractedPayload struct {
	Origin      *string    `json:"origin"`
	Destination *string    `json:"destination"`
	Cargo       *string    `json:"cargo"`
	Weight      flexNumber `json:"weight"`
	DistanceKm  flexNumber `json:"distance_km"`
}

// flexNumber accepts a JSON number, a numeric string or null.
type flexNumber struct {
	v *float64
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		n.v = nil
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if s == "" {
			n.v = nil
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		return n.set(f)
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	return n.set(f)
}

func (n *flexNumber) set(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return fmt.Errorf("out of range: %v", f)
	}
	// Zero means the model had no value; it must not overwrite the slot.
	if f == 0 {
		n.v = nil
		return nil
	}
	n.v = &f
	return nil
}

// DefaultDecision is what the agent acts on when the model output cannot
// be used.
func DefaultDecision() domain.Decision {
	return domain.Decision{Action: domain.ActionGeneralQuery, Reply: replyParseFailure}
}

// ParseDecision extracts the first balanced JSON object from raw model
// output and validates it as a booking decision. On failure it returns
// DefaultDecision together with the error.
func ParseDecision(raw string) (domain.Decision, error) {
	obj, err := firstObject(raw)
	if err != nil {
		return DefaultDecision(), err
	}

	var p decisionPayload
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return DefaultDecision(), fmt.Errorf("usecase: decode decision: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return DefaultDecision(), errors.New("usecase: decode decision: trailing data")
	}

	action := domain.Action(strings.TrimSpace(p.Action))
	if !action.Valid() {
		return DefaultDecision(), fmt.Errorf("usecase: decode decision: unknown action %q", p.Action)
	}
	reply := strings.TrimSpace(p.Reply)
	if reply == "" {
		return DefaultDecision(), errors.New("usecase: decode decision: empty reply")
	}

	d := domain.Decision{Action: action, Reply: reply}
	if e := p.ExtractedData; e != nil {
		d.Extracted = domain.ExtractedData{
			Origin:      e.Origin,
			Destination: e.Destination,
			Cargo:       e.Cargo,
			Weight:      e.Weight.v,
			DistanceKm:  e.DistanceKm.v,
		}
	}
	return d, nil
}

// firstObject returns the first balanced {...} span of s. Braces inside
// string literals are ignored.
func firstObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errors.New("usecase: decode decision: no JSON object in output")
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errors.New("usecase: decode decision: unbalanced JSON object")
}

// bookingView is the booking as shown to the model, with explicit nulls.
type bookingView struct {
	Origin      *string  `json:"origin"`
	Destination *string  `json:"destination"`
	Cargo       *string  `json:"cargo"`
	Weight      *float64 `json:"weight"`
	DistanceKm  *float64 `json:"distance_km"`
}

func bookingJSON(b domain.BookingData) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(bookingView(b))
	return strings.TrimSpace(buf.String())
}
