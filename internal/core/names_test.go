package core

import (
	"math/rand"
	"testing"
)

func TestGenerateNameAvoidsCollisions(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	taken := map[string]bool{}
	for i := 0; i < 50; i++ {
		name := GenerateName(rng, taken)
		if name == "" {
			t.Fatal("empty name")
		}
		if taken[name] {
			t.Fatalf("duplicate name %q", name)
		}
		taken[name] = true
	}
}

func TestGenerateNameDeterministicFallback(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	taken := map[string]bool{}
	for _, adj := range nameAdjectives {
		for _, noun := range nameNouns {
			taken[adj+" "+noun] = true
		}
	}
	// Every random attempt collides, so the numeric-suffix fallback kicks in.
	first := GenerateName(rng, taken)
	if first != nameAdjectives[0]+" "+nameNouns[0]+" 2" {
		t.Fatalf("fallback name = %q", first)
	}
	taken[first] = true
	second := GenerateName(rng, taken)
	if second != nameAdjectives[0]+" "+nameNouns[0]+" 3" {
		t.Fatalf("second fallback name = %q", second)
	}
}

func TestColorForPopulationWraps(t *testing.T) {
	if ColorForPopulation(0) != ColorForPopulation(len(presenceColors)) {
		t.Fatal("palette should wrap round-robin")
	}
	if ColorForPopulation(-1) != ColorForPopulation(0) {
		t.Fatal("negative population should clamp")
	}
}
