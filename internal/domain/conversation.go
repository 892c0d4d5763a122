package domain

import (
	"strings"
	"time"
)

// Step is a stage of the conversation protocol.
type Step string

const (
	StepStart          Step = "start"
	StepOrderLocation  Step = "order_location"
	StepCargoDetails   Step = "cargo_details"
	StepComplianceDocs Step = "compliance_docs"
	StepRateQuestions  Step = "rate_questions"
	StepRateWeight     Step = "rate_weight"
	StepRateTimeline   Step = "rate_timeline"
	StepRateDone       Step = "rate_done"
	// StepConversation marks state owned by the LLM-decision flow.
	StepConversation Step = "conversation"
)

// Valid reports whether s is one of the known steps.
func (s Step) Valid() bool {
	switch s {
	case StepStart, StepOrderLocation, StepCargoDetails, StepComplianceDocs,
		StepRateQuestions, StepRateWeight, StepRateTimeline, StepRateDone,
		StepConversation:
		return true
	}
	return false
}

// ConversationState is the per-conversation record persisted between turns.
type ConversationState struct {
	Step             Step         `json:"step" dynamodbav:"step"`
	OriginCity       string       `json:"originCity,omitempty" dynamodbav:"originCity,omitempty"`
	CargoDescription string       `json:"cargoDescription,omitempty" dynamodbav:"cargoDescription,omitempty"`
	Documents        []string     `json:"documents,omitempty" dynamodbav:"documents,omitempty"`
	Size             string       `json:"size,omitempty" dynamodbav:"size,omitempty"`
	Weight           string       `json:"weight,omitempty" dynamodbav:"weight,omitempty"`
	Timeline         string       `json:"timeline,omitempty" dynamodbav:"timeline,omitempty"`
	Booking          *BookingData `json:"bookingData,omitempty" dynamodbav:"bookingData,omitempty"`
}

// NewConversationState returns the initial state of a fresh conversation.
func NewConversationState() ConversationState {
	return ConversationState{Step: StepStart}
}

// BookingData is the slot record filled by the LLM-decision flow.
type BookingData struct {
	Origin      *string  `json:"origin,omitempty" dynamodbav:"origin,omitempty"`
	Destination *string  `json:"destination,omitempty" dynamodbav:"destination,omitempty"`
	Cargo       *string  `json:"cargo,omitempty" dynamodbav:"cargo,omitempty"`
	Weight      *float64 `json:"weight,omitempty" dynamodbav:"weight,omitempty"`
	DistanceKm  *float64 `json:"distanceKm,omitempty" dynamodbav:"distanceKm,omitempty"`
}

// Merge copies every non-nil field of d into b. Existing values are never
// cleared by a nil field.
func (b *BookingData) Merge(d ExtractedData) {
	if v := nonBlank(d.Origin); v != nil {
		b.Origin = v
	}
	if v := nonBlank(d.Destination); v != nil {
		b.Destination = v
	}
	if v := nonBlank(d.Cargo); v != nil {
		b.Cargo = v
	}
	if d.Weight != nil {
		w := *d.Weight
		b.Weight = &w
	}
	if d.DistanceKm != nil {
		km := *d.DistanceKm
		b.DistanceKm = &km
	}
}

// IsEmpty reports whether no slot has been filled yet.
func (b BookingData) IsEmpty() bool {
	return b.Origin == nil && b.Destination == nil && b.Cargo == nil && b.Weight == nil && b.DistanceKm == nil
}

func nonBlank(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// Role identifies the author of a logged message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is a single entry of the append-only conversation log.
type Message struct {
	Role      Role      `json:"role" dynamodbav:"role"`
	Content   string    `json:"content" dynamodbav:"content"`
	CreatedAt time.Time `json:"createdAt,omitempty" dynamodbav:"createdAt"`
}
