package domain

import (
	"context"
	"strings"
	"time"
)

// FacilityRecord is a health facility emergency contact entry. Created and
// edited through the administrative surface; read-only to the core.
type FacilityRecord struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	ContactNumbers   []string  `json:"contact_numbers"`
	County           string    `json:"county"`
	HasMaternity     bool      `json:"has_maternity"`
	HasEmergency     bool      `json:"has_emergency"`
	OpenTwentyFour   bool      `json:"open_24_hours"`
	HasAmbulance     bool      `json:"has_ambulance"`
	Verified         bool      `json:"verified"`
	DisplayPriority  int       `json:"display_priority"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ContactLine renders the "<name>: <contact>" line used in emergency advisories.
func (f FacilityRecord) ContactLine() string {
	if len(f.ContactNumbers) == 0 {
		return f.Name
	}
	return f.Name + ": " + strings.Join(f.ContactNumbers, " / ")
}

// FacilitySource tags where a directory result came from.
type FacilitySource string

const (
	SourcePrimary  FacilitySource = "primary"
	SourceFallback FacilitySource = "fallback"
)

// FacilityResult is an ordered contact list plus its provenance.
type FacilityResult struct {
	Facilities []FacilityRecord
	Source     FacilitySource
}

// FacilityStore persists facility records.
type FacilityStore interface {
	Get(ctx context.Context, id string) (*FacilityRecord, error)
	List(ctx context.Context, county string, activeOnly bool) ([]FacilityRecord, error)
	EmergencyFacilities(ctx context.Context, county string, limit int) ([]FacilityRecord, error)
	Create(ctx context.Context, f FacilityRecord) error
	Update(ctx context.Context, f FacilityRecord) error
	Deactivate(ctx context.Context, id string) error
	Close() error
}
