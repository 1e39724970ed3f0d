package facility

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"mamabot/internal/domain"
)

// seedEntry is one facility row in a seed YAML file.
type seedEntry struct {
	Name            string   `yaml:"name"`
	ContactNumbers  []string `yaml:"contactNumbers"`
	County          string   `yaml:"county"`
	HasMaternity    bool     `yaml:"hasMaternity"`
	HasEmergency    bool     `yaml:"hasEmergency"`
	OpenTwentyFour  bool     `yaml:"open24Hours"`
	HasAmbulance    bool     `yaml:"hasAmbulance"`
	Verified        bool     `yaml:"verified"`
	DisplayPriority int      `yaml:"displayPriority"`
}

type seedFile struct {
	Facilities []seedEntry `yaml:"facilities"`
}

// SeedFromFile bulk-loads facility rows from a YAML file into the store.
// Invalid entries are skipped with a warning; returns the number loaded.
func SeedFromFile(ctx context.Context, store domain.FacilityStore, path string, logger *slog.Logger) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	loaded := 0
	for _, e := range sf.Facilities {
		if e.Name == "" || e.County == "" {
			logger.Warn("skipping seed entry without name or county", "entry", e)
			continue
		}
		rec := domain.FacilityRecord{
			Name:            e.Name,
			ContactNumbers:  e.ContactNumbers,
			County:          e.County,
			HasMaternity:    e.HasMaternity,
			HasEmergency:    e.HasEmergency,
			OpenTwentyFour:  e.OpenTwentyFour,
			HasAmbulance:    e.HasAmbulance,
			Verified:        e.Verified,
			DisplayPriority: e.DisplayPriority,
			Active:          true,
		}
		if err := store.Create(ctx, rec); err != nil {
			return loaded, fmt.Errorf("seed %q: %w", e.Name, err)
		}
		loaded++
	}

	logger.Info("facility seed complete", "path", path, "loaded", loaded)
	return loaded, nil
}
