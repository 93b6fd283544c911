package core

import (
	"fmt"
	"math/rand"
)

var nameAdjectives = [...]string{
	"Amber", "Bold", "Calm", "Deft", "Eager", "Fleet", "Gentle", "Hazel",
	"Keen", "Lucid", "Mellow", "Nimble", "Opal", "Quiet", "Rapid", "Sage",
	"Tidy", "Vivid", "Warm", "Zesty",
}

var nameNouns = [...]string{
	"Badger", "Crane", "Dolphin", "Falcon", "Gazelle", "Heron", "Ibis",
	"Jackdaw", "Kestrel", "Lynx", "Marten", "Newt", "Otter", "Plover",
	"Raven", "Stoat", "Tern", "Vole", "Wren", "Yak",
}

const nameAttempts = 16

// GenerateName picks a human-readable adjective+noun pair not already live
// in the room. After a bounded number of random attempts it falls back to a
// deterministic name with a numeric suffix.
func GenerateName(rng *rand.Rand, taken map[string]bool) string {
	for i := 0; i < nameAttempts; i++ {
		name := nameAdjectives[rng.Intn(len(nameAdjectives))] + " " + nameNouns[rng.Intn(len(nameNouns))]
		if !taken[name] {
			return name
		}
	}
	base := nameAdjectives[0] + " " + nameNouns[0]
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		name := fmt.Sprintf("%s %d", base, n)
		if !taken[name] {
			return name
		}
	}
}

var presenceColors = [...]string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#008080",
}

// ColorForPopulation returns the presence color for the nth member of a
// room, round-robin over a fixed palette.
func ColorForPopulation(n int) string {
	if n < 0 {
		n = 0
	}
	return presenceColors[n%len(presenceColors)]
}
