package triage

import (
	"reflect"
	"strings"
	"testing"
)

func categories(text string) []Category {
	return Classify(text).Categories
}

func TestClassify_SingleCategory(t *testing.T) {
	tests := []struct {
		text string
		want Category
	}{
		{"I have heavy bleeding since morning", Bleeding},
		{"nina kutoka damu", Bleeding},
		{"my vision is blurred", SevereHeadache},
		{"kichwa kuuma sana leo", SevereHeadache},
		{"she has a high fever and chills", Fever},
		{"homa kali usiku", Fever},
		{"the baby is not moving today", ReducedFetalMovement},
		{"mtoto hachezi tumboni", ReducedFetalMovement},
		{"sharp pain in my side", AbdominalPain},
		{"tumbo kuuma sana", AbdominalPain},
		{"I think my water broke", RuptureOfMembranes},
		{"maji yamekatika", RuptureOfMembranes},
		{"she had a seizure", Convulsions},
		{"amepata degedege", Convulsions},
		{"severe swelling of my feet", SevereSwelling},
		{"miguu kuvimba sana", SevereSwelling},
	}
	for _, tt := range tests {
		got := categories(tt.text)
		if len(got) != 1 || got[0] != tt.want {
			t.Errorf("Classify(%q) = %v, want [%s]", tt.text, got, tt.want)
		}
	}
}

// All matched categories are returned, never just the first.
func TestClassify_MultipleCategories(t *testing.T) {
	got := categories("I have severe bleeding and high fever")
	want := []Category{Bleeding, Fever}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestClassify_MixedLanguages(t *testing.T) {
	// Swahili bleeding phrase plus English convulsion term in one message.
	got := categories("nina damu nyingi na amekuwa na convulsions")
	want := []Category{Bleeding, Convulsions}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestClassify_CaseInsensitive(t *testing.T) {
	if got := categories("HEAVY BLEEDING"); len(got) != 1 || got[0] != Bleeding {
		t.Errorf("uppercase input should match, got %v", got)
	}
}

func TestClassify_NoMatch(t *testing.T) {
	for _, text := range []string{
		"",
		"what should I eat during pregnancy?",
		"asante sana kwa msaada",
		"my back aches a little", // plain ache, not a danger phrase
	} {
		if res := Classify(text); res.Detected() {
			t.Errorf("Classify(%q) unexpectedly detected %v", text, res.Categories)
		}
	}
}

func TestClassify_WordBoundaries(t *testing.T) {
	// "bleeding" inside another word must not match.
	if res := Classify("nonbleedingly irrelevant"); res.Detected() {
		t.Errorf("substring inside a word should not match, got %v", res.Categories)
	}
}

func TestClassify_KeywordsRecorded(t *testing.T) {
	res := Classify("I have heavy bleeding and my water broke")
	if len(res.Keywords) != 2 {
		t.Fatalf("expected 2 keywords, got %v", res.Keywords)
	}
	if !strings.Contains(strings.ToLower(res.Keywords[0]), "bleeding") {
		t.Errorf("expected bleeding keyword, got %q", res.Keywords[0])
	}
}

func TestClassify_DeterministicOrder(t *testing.T) {
	text := "convulsions and heavy bleeding and high fever"
	first := categories(text)
	for i := 0; i < 10; i++ {
		if got := categories(text); !reflect.DeepEqual(got, first) {
			t.Fatalf("order changed between runs: %v vs %v", got, first)
		}
	}
	// Table order: bleeding before fever before convulsions.
	want := []Category{Bleeding, Fever, Convulsions}
	if !reflect.DeepEqual(first, want) {
		t.Errorf("got %v, want table order %v", first, want)
	}
}

func TestCategories_Complete(t *testing.T) {
	if len(Categories()) != 8 {
		t.Errorf("expected 8 categories, got %d", len(Categories()))
	}
}
