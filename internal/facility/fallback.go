package facility

import (
	"strings"

	"mamabot/internal/domain"
)

// Static fallback contacts, served when the database is unreachable or a
// county has no registered facilities. Kept deliberately short and ordered;
// numbers are published emergency lines.
var fallbackByCounty = map[string][]domain.FacilityRecord{
	"migori": {
		{
			Name:           "Migori County Referral Hospital",
			ContactNumbers: []string{"0800 723 253"},
			County:         "Migori",
			HasMaternity:   true, HasEmergency: true, OpenTwentyFour: true, HasAmbulance: true,
			Verified: true, DisplayPriority: 1, Active: true,
		},
		{
			Name:           "Ombo Mission Hospital",
			ContactNumbers: []string{"0722 123 456"},
			County:         "Migori",
			HasMaternity:   true, HasEmergency: true, OpenTwentyFour: true, HasAmbulance: true,
			Verified: true, DisplayPriority: 2, Active: true,
		},
		{
			Name:           "Isebania Sub-County Hospital",
			ContactNumbers: []string{"0733 456 789"},
			County:         "Migori",
			HasMaternity:   true, HasEmergency: true, OpenTwentyFour: true,
			Verified: true, DisplayPriority: 3, Active: true,
		},
	},
}

// fallbackNational is served for counties with no dedicated fallback entry.
var fallbackNational = []domain.FacilityRecord{
	{
		Name:           "Kenya Emergency Medical Services",
		ContactNumbers: []string{"999", "112"},
		County:         "National",
		HasEmergency:   true, OpenTwentyFour: true, HasAmbulance: true,
		Verified: true, DisplayPriority: 1, Active: true,
	},
	{
		Name:           "Kenyatta National Hospital",
		ContactNumbers: []string{"020 2726300"},
		County:         "Nairobi",
		HasMaternity:   true, HasEmergency: true, OpenTwentyFour: true,
		Verified: true, DisplayPriority: 2, Active: true,
	},
}

// FallbackFacilities returns the static contact list for a county, or the
// national list when the county is unrecognized. Never empty.
func FallbackFacilities(county string) []domain.FacilityRecord {
	if facilities, ok := fallbackByCounty[strings.ToLower(strings.TrimSpace(county))]; ok {
		return facilities
	}
	return fallbackNational
}
