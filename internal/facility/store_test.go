package facility

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"mamabot/internal/domain"
)

func TestStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	f := domain.FacilityRecord{
		Name:           "Migori County Referral Hospital",
		ContactNumbers: []string{"0800 723 253", "0700 000 001"},
		County:         "Migori",
		HasMaternity:   true,
		HasEmergency:   true,
		Verified:       true,
		Active:         true,
	}
	if err := store.Create(ctx, f); err != nil {
		t.Fatal(err)
	}

	all, err := store.List(ctx, "Migori", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 facility, got %d", len(all))
	}

	got, err := store.Get(ctx, all[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != f.Name {
		t.Errorf("got %+v", got)
	}
	if len(got.ContactNumbers) != 2 {
		t.Errorf("contact numbers lost in round trip: %v", got.ContactNumbers)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Get(context.Background(), "no-such-id")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil for missing facility, got %+v", got)
	}
}

func TestStore_UpdateAndDeactivate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, domain.FacilityRecord{Name: "Old Name", County: "Migori", Active: true})
	all, _ := store.List(ctx, "Migori", false)
	f := all[0]

	f.Name = "New Name"
	f.Verified = true
	if err := store.Update(ctx, f); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Get(ctx, f.ID)
	if got.Name != "New Name" || !got.Verified {
		t.Errorf("update not applied: %+v", got)
	}

	if err := store.Deactivate(ctx, f.ID); err != nil {
		t.Fatal(err)
	}
	active, _ := store.List(ctx, "Migori", true)
	if len(active) != 0 {
		t.Errorf("deactivated facility still listed as active")
	}
	// Soft delete: record still exists.
	if got, _ := store.Get(ctx, f.ID); got == nil || got.Active {
		t.Errorf("expected inactive record to remain, got %+v", got)
	}
}

func TestStore_UpdateMissing(t *testing.T) {
	store := newTestStore(t)
	err := store.Update(context.Background(), domain.FacilityRecord{ID: "ghost", Name: "X", County: "Y"})
	if err == nil {
		t.Error("expected error updating missing facility")
	}
}

func TestSeedFromFile(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "facilities.yaml")

	seed := `facilities:
  - name: Migori County Referral Hospital
    contactNumbers: ["0800 723 253"]
    county: Migori
    hasMaternity: true
    hasEmergency: true
    open24Hours: true
    hasAmbulance: true
    verified: true
    displayPriority: 1
  - name: Ombo Mission Hospital
    contactNumbers: ["0722 123 456"]
    county: Migori
    hasEmergency: true
    verified: true
    displayPriority: 2
  - name: ""
    county: Migori
`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := SeedFromFile(context.Background(), store, path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 loaded (nameless entry skipped), got %d", n)
	}

	all, _ := store.List(context.Background(), "Migori", true)
	if len(all) != 2 {
		t.Errorf("expected 2 facilities in store, got %d", len(all))
	}
}

func TestSeedFromFile_MissingFile(t *testing.T) {
	store := newTestStore(t)
	if _, err := SeedFromFile(context.Background(), store, "/nope.yaml", testLogger()); err == nil {
		t.Error("expected error for missing seed file")
	}
}
