// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// Tests for personality level selection and parsing.

package ux

import (
	"os"
	"testing"
)

func TestParsePersonalityLevel(t *testing.T) {
	tests := []struct {
		in   string
		want PersonalityLevel
	}{
		{"full", PersonalityFull},
		{"f", PersonalityFull},
		{"FULL", PersonalityFull},
		{"standard", PersonalityStandard},
		{"std", PersonalityStandard},
		{"s", PersonalityStandard},
		{"minimal", PersonalityMinimal},
		{"min", PersonalityMinimal},
		{"m", PersonalityMinimal},
		{"machine", PersonalityMachine},
		{"quiet", PersonalityMachine},
		{"q", PersonalityMachine},
		{"bogus", PersonalityStandard},
		{"", PersonalityStandard},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParsePersonalityLevel(tt.in); got != tt.want {
				t.Errorf("ParsePersonalityLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetAndGetPersonality(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonality(Personality{Level: PersonalityMinimal, Theme: "mono", ShowHints: false})

	p := GetPersonality()
	if p.Level != PersonalityMinimal {
		t.Errorf("Level = %v", p.Level)
	}
	if p.Theme != "mono" {
		t.Errorf("Theme = %v", p.Theme)
	}
	if p.ShowHints {
		t.Error("ShowHints should be false")
	}
}

func TestSetPersonalityLevel(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)
	if GetPersonality().Level != PersonalityMachine {
		t.Error("level not applied")
	}

	// Only the level changes
	if GetPersonality().Theme != orig.Theme {
		t.Error("theme should be untouched")
	}
}

func TestInitPersonality_EnvOverride(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	os.Setenv("SERIESSYNC_PERSONALITY", "minimal")
	defer os.Unsetenv("SERIESSYNC_PERSONALITY")

	InitPersonality()

	if GetPersonality().Level != PersonalityMinimal {
		t.Errorf("expected env override to minimal, got %v", GetPersonality().Level)
	}
}

func TestInitPersonality_NonTerminal(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	os.Unsetenv("SERIESSYNC_PERSONALITY")

	InitPersonality()

	// Test binaries usually run with piped stdout; only assert the
	// non-terminal branch when that holds.
	if isTerminal() {
		t.Skip("stdout is a terminal")
	}
	if GetPersonality().Level != PersonalityMachine {
		t.Errorf("expected machine level without a terminal, got %v", GetPersonality().Level)
	}
}

func TestShouldShowProgress(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)
	if ShouldShowProgress() {
		t.Error("no progress in machine mode")
	}

	SetPersonalityLevel(PersonalityFull)
	if !ShouldShowProgress() {
		t.Error("progress expected in full mode")
	}
}

func TestShouldShowColors(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)
	if ShouldShowColors() {
		t.Error("no colors in machine mode")
	}
}

func TestDefaultPersonality(t *testing.T) {
	p := DefaultPersonality()
	if p.Level != PersonalityFull {
		t.Errorf("Level = %v", p.Level)
	}
	if !p.ShowHints {
		t.Error("hints should default on")
	}
}
