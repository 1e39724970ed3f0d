package domain

import "context"

// DedupGate suppresses repeated webhook deliveries of the same message id.
// Claim must be atomic: exactly one concurrent caller for a given id observes
// first=true within the retention window.
type DedupGate interface {
	Claim(ctx context.Context, messageID string) (first bool, err error)
}

// HistoryStore keeps a bounded rolling window of recent conversation turns
// per sender, used as LLM context.
type HistoryStore interface {
	AppendTurn(ctx context.Context, senderID, userText, replyText string) error
	RecentTurns(ctx context.Context, senderID string) ([]Turn, error)
}

// Turn is one user/assistant exchange.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}
