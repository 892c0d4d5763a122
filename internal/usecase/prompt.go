package usecase

import (
	"fmt"
	"strings"

	"captain-agent/internal/domain"
)

func buildDecisionMessages(history []domain.Message, booking domain.BookingData, message string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.ChatRoleSystem, Content: buildPersonaPrompt()},
		{Role: domain.ChatRoleUser, Content: buildTurnPrompt(history, booking, message)},
	}
}

func buildPersonaPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are Captain, a logistics consultant who helps customers quote and book freight shipments.",
		"",
		"Task:",
		"Read the latest customer message, extract any shipment details it contains and choose exactly one action.",
		"",
		"Actions:",
		actionGuide(),
		"",
		"Behavior Rules:",
		behaviorRules(),
		"",
		"Output Contract:",
		outputContract(),
	}, "\n")
}

func actionGuide() string {
	return strings.Join([]string{
		"- UPDATE_INFO: the customer supplied or corrected origin, destination, cargo, weight or distance.",
		"- GENERATE_QUOTE: the customer asked for a price and origin, destination and cargo are known.",
		"- CONFIRM_BOOKING: the customer explicitly accepted a quote.",
		"- CANCEL_BOOKING: the customer wants to drop the current booking.",
		"- GENERAL_QUERY: anything else about shipping, customs, documents or trade compliance.",
	}, "\n")
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Only discuss freight, logistics, customs and trade compliance. Politely refuse off-topic or trivia questions.",
		"2) Choose CONFIRM_BOOKING only when the latest message contains explicit agreement such as \"yes\", \"confirm\" or \"proceed\".",
		"3) Never choose CONFIRM_BOOKING when the latest message contains \"no\", \"don't\", \"cancel\" or \"wait\".",
		"4) If a required detail is missing, ask for it in the reply and choose UPDATE_INFO or GENERAL_QUERY.",
		"5) Weight is in kilograms and distance in kilometres. Use null for anything not stated in the latest message.",
		"6) Keep replies short, friendly and professional. Do not invent prices; the system adds the quote.",
	}, "\n")
}

func outputContract() string {
	return "Return JSON only with keys action (string), extracted_data (object with origin, destination, cargo, " +
		"weight, distance_km, each nullable) and reply (string). The reply is shown to the customer verbatim."
}

func buildTurnPrompt(history []domain.Message, booking domain.BookingData, message string) string {
	return fmt.Sprintf(
		"Conversation history:\n%s\n\nCurrent booking data:\n%s\n\nLatest message:\n%s",
		transcript(history),
		bookingJSON(booking),
		strings.TrimSpace(message),
	)
}

func transcript(history []domain.Message) string {
	if len(history) == 0 {
		return "(none)"
	}
	lines := make([]string, 0, len(history))
	for _, m := range history {
		content := normalizePromptInput(m.Content)
		if content == "" {
			continue
		}
		speaker := "Customer"
		if m.Role == domain.RoleAgent {
			speaker = "Captain"
		}
		lines = append(lines, speaker+": "+content)
	}
	if len(lines) == 0 {
		return "(none)"
	}
	return strings.Join(lines, "\n")
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
