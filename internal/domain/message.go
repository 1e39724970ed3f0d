package domain

import "time"

// InboundMessage is a single text message delivered by the WhatsApp webhook.
// MessageID is the provider's external id and repeats when the provider
// retries a delivery. Immutable once parsed.
type InboundMessage struct {
	MessageID   string
	SenderID    string // WhatsApp wa_id
	PhoneNumber string
	Content     string
	Language    string // declared hint: "en" | "sw" | ""
	Timestamp   time.Time
}

// OutboundMessage is a reply handed to the dispatch channel.
type OutboundMessage struct {
	RecipientID string // phone number for the send API
	Content     string
	Language    string
}
