package soundbank

import (
	"testing"
)

func names(sounds []Sound) []string {
	out := make([]string, len(sounds))
	for i, s := range sounds {
		out[i] = s.Name
	}
	return out
}

func bank(nameList ...string) []Sound {
	out := make([]Sound, len(nameList))
	for i, n := range nameList {
		out[i] = Sound{Name: n, Extension: "mp3"}
	}
	return out
}

func TestFind_ExactBeatsSubstring(t *testing.T) {
	t.Parallel()

	sounds := bank("horn", "hornet", "airhorn")
	got := Find(sounds, "Horn")
	if len(got) != 1 || got[0].Name != "horn" {
		t.Errorf("Find = %v, want exactly [horn]", names(got))
	}
}

func TestFind_Substring(t *testing.T) {
	t.Parallel()

	sounds := bank("horn", "hornet", "airhorn", "bell")
	got := names(Find(sounds, "orn"))
	want := []string{"horn", "hornet", "airhorn"}
	if len(got) != len(want) {
		t.Fatalf("Find = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Find = %v, want %v", got, want)
			break
		}
	}
}

func TestFind_Fuzzy(t *testing.T) {
	t.Parallel()

	sounds := bank("hello", "bell")
	got := Find(sounds, "helo")
	if len(got) == 0 || got[0].Name != "hello" {
		t.Errorf("Find = %v, want hello first", names(got))
	}
}

func TestFind_NoMatch(t *testing.T) {
	t.Parallel()

	if got := Find(bank("hello", "bell"), "zzzzzz"); len(got) != 0 {
		t.Errorf("Find = %v, want empty", names(got))
	}
}

func TestEffectiveVolume(t *testing.T) {
	t.Parallel()

	tests := []struct {
		personal, global, want float64
	}{
		{100, 100, 1},
		{50, 100, 0.5},
		{100, 50, 0.5},
		{20, 50, 0.1},
		{0, 100, 0},
	}
	for _, tt := range tests {
		if got := EffectiveVolume(tt.personal, tt.global); got != tt.want {
			t.Errorf("EffectiveVolume(%v, %v) = %v, want %v", tt.personal, tt.global, got, tt.want)
		}
	}
}
