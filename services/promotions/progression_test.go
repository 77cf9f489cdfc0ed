package promotions

import "testing"

func TestIsValidProgression(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{"grade1", "grade2", true},
		{"grade5", "grade6", true},
		{"grade6", "grade7", true}, // the only cross-band step
		{"grade7", "grade8", true},
		{"grade9", "grade10", true},
		{"grade5", "grade7", false}, // skipping a class
		{"grade3", "grade2", false}, // demotion
		{"grade6", "grade6", false},
		{"grade10", "grade11", false}, // terminal class
		{"grade0", "grade1", false},
		{"", "grade1", false},
		{"grade1", "", false},
	}
	for _, tt := range tests {
		if got := IsValidProgression(tt.from, tt.to); got != tt.want {
			t.Errorf("IsValidProgression(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNextClass(t *testing.T) {
	tests := []struct {
		from, want string
	}{
		{"grade1", "grade2"},
		{"grade6", "grade7"},
		{"grade10", ""},
		{"kindergarten", ""},
	}
	for _, tt := range tests {
		if got := NextClass(tt.from); got != tt.want {
			t.Errorf("NextClass(%q) = %q, want %q", tt.from, got, tt.want)
		}
	}
}

func TestIsKnownClass(t *testing.T) {
	if !IsKnownClass("grade8") {
		t.Error("grade8 should be on the ladder")
	}
	if IsKnownClass("grade11") {
		t.Error("grade11 should not be on the ladder")
	}
}
