// Package facility resolves emergency contact facilities for a county,
// degrading to a fixed fallback table when the backing store is unavailable.
package facility

import (
	"context"
	"log/slog"

	"mamabot/internal/domain"
)

// Directory answers emergency contact lookups. It is the last line of
// defense in the emergency path: EmergencyContactsFor never returns an error
// and never returns an empty list.
type Directory struct {
	store  domain.FacilityStore
	topK   int
	logger *slog.Logger
}

func NewDirectory(store domain.FacilityStore, topK int, logger *slog.Logger) *Directory {
	if topK <= 0 {
		topK = 3
	}
	return &Directory{store: store, topK: topK, logger: logger}
}

// EmergencyContactsFor returns the ordered top-K active facilities for the
// county. Store errors and empty counties both substitute the static
// fallback list, tagged so callers and metrics can spot the degradation.
func (d *Directory) EmergencyContactsFor(ctx context.Context, county string) domain.FacilityResult {
	facilities, err := d.store.EmergencyFacilities(ctx, county, d.topK)
	if err != nil {
		d.logger.Warn("facility store unavailable, using fallback contacts",
			"county", county, "err", err)
		return fallbackResult(county, d.topK)
	}
	if len(facilities) == 0 {
		d.logger.Warn("no facilities registered for county, using fallback contacts",
			"county", county)
		return fallbackResult(county, d.topK)
	}
	return domain.FacilityResult{Facilities: facilities, Source: domain.SourcePrimary}
}

func fallbackResult(county string, topK int) domain.FacilityResult {
	facilities := FallbackFacilities(county)
	if len(facilities) > topK {
		facilities = facilities[:topK]
	}
	return domain.FacilityResult{Facilities: facilities, Source: domain.SourceFallback}
}
