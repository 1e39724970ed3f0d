package domain

import (
	"context"
	"time"
)

// RegistrationPhase is the user's position in the registration flow.
// Phases only move forward; there is no regression path.
type RegistrationPhase string

const (
	PhaseUnstarted              RegistrationPhase = "unstarted"
	PhaseAwaitingConsent        RegistrationPhase = "awaiting_consent"
	PhaseAwaitingName           RegistrationPhase = "awaiting_name"
	PhaseAwaitingGestationalAge RegistrationPhase = "awaiting_gestational_age"
	PhaseComplete               RegistrationPhase = "complete"
)

// StudyGroup is the randomized experimental arm a registered user belongs to.
type StudyGroup string

const (
	GroupIntervention StudyGroup = "intervention"
	GroupControl      StudyGroup = "control"
)

// User holds a sender's registration state and profile. Keyed by WhatsAppID;
// mutated only by the conversation engine under the per-sender lock.
type User struct {
	ID                   string            `json:"id"`
	WhatsAppID           string            `json:"whatsapp_id"`
	PhoneNumber          string            `json:"phone_number"`
	Phase                RegistrationPhase `json:"phase"`
	Name                 string            `json:"name,omitempty"`
	GestationalAgeWeeks  int               `json:"gestational_age_weeks,omitempty"`
	ExpectedDeliveryDate *time.Time        `json:"expected_delivery_date,omitempty"`
	Language             string            `json:"language"` // "en" | "sw"
	StudyGroup           StudyGroup        `json:"study_group,omitempty"`
	County               string            `json:"county"`
	Active               bool              `json:"active"`
	ConsentAt            *time.Time        `json:"consent_at,omitempty"`
	EnrolledAt           time.Time         `json:"enrolled_at"`
}

// CurrentGestationalAge returns the gestational age in weeks as of now,
// advanced from the enrollment value. Zero when not yet collected.
func (u *User) CurrentGestationalAge(now time.Time) int {
	if u.GestationalAgeWeeks == 0 {
		return 0
	}
	elapsed := int(now.Sub(u.EnrolledAt).Hours() / (24 * 7))
	age := u.GestationalAgeWeeks + elapsed
	if age > 44 {
		age = 44
	}
	return age
}

// MessageDirection tags a conversation log row.
type MessageDirection string

const (
	DirectionIncoming MessageDirection = "incoming"
	DirectionOutgoing MessageDirection = "outgoing"
)

// ConversationRecord is one logged message exchange row.
type ConversationRecord struct {
	ID                 int64            `json:"id"`
	UserID             string           `json:"user_id"`
	Direction          MessageDirection `json:"direction"`
	Text               string           `json:"text"`
	GestationalAge     int              `json:"gestational_age,omitempty"`
	DangerSignDetected bool             `json:"danger_sign_detected"`
	DangerSignKeywords string           `json:"danger_sign_keywords,omitempty"`
	ResponseTimeMs     int64            `json:"response_time_ms,omitempty"`
	ModelUsed          string           `json:"model_used,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// UserStore persists users and the conversation log.
type UserStore interface {
	GetByWhatsAppID(ctx context.Context, waID string) (*User, error)
	Create(ctx context.Context, u User) error
	Update(ctx context.Context, u User) error
	CountByStudyGroup(ctx context.Context, group StudyGroup) (int, error)
	LogMessage(ctx context.Context, rec ConversationRecord) error
	Close() error
}
