package domain

import (
	"fmt"
	"math"
	"strings"
)

type Mode int

const (
	ModeOther Mode = iota
	ModeSolo
	ModeDoubleUp
)

func (m Mode) String() string {
	switch m {
	case ModeSolo:
		return "solo"
	case ModeDoubleUp:
		return "doubleup"
	default:
		return "other"
	}
}

// Riot TFT queue ids.
const (
	QueueRanked   = 1100
	QueueDoubleUp = 1160
)

func ClassifyQueue(queueID int) Mode {
	switch queueID {
	case QueueRanked:
		return ModeSolo
	case QueueDoubleUp:
		return ModeDoubleUp
	default:
		return ModeOther
	}
}

// TeamPlacement maps a raw double-up placement (two players per slot in a
// pool of eight) onto the four team slots.
func TeamPlacement(raw int) int {
	return int(math.Ceil(float64(raw) / 2))
}

const tierBand = 400

var tierLadder = []string{
	"IRON",
	"BRONZE",
	"SILVER",
	"GOLD",
	"PLATINUM",
	"EMERALD",
	"DIAMOND",
	"MASTER",
	"GRANDMASTER",
	"CHALLENGER",
}

var divisionValues = map[string]int{
	"I":   300,
	"II":  200,
	"III": 100,
	"IV":  0,
}

// RankScore collapses a snapshot onto a single comparable integer: a
// 400-point band per tier, a fixed offset per division, LP added verbatim.
// Unranked and unknown tiers score 0.
func RankScore(r RankSnapshot) int {
	if !r.IsRanked() {
		return 0
	}
	base := -1
	for i, tier := range tierLadder {
		if tier == strings.ToUpper(r.Tier) {
			base = i * tierBand
			break
		}
	}
	if base < 0 {
		return 0
	}
	return base + divisionValues[strings.ToUpper(r.Division)] + r.LP
}

// ComputeDelta writes nothing; it is the pure half of a rank update. The
// delta is nil when the old snapshot never held a tier, so a first placement
// is not reported as a jump from zero.
func ComputeDelta(old, new RankSnapshot) DeltaResult {
	res := DeltaResult{Old: old, New: new}
	if !old.IsRanked() {
		return res
	}
	d := RankScore(new) - RankScore(old)
	res.Delta = &d
	return res
}

// FormatRank renders a snapshot for user-facing text.
func FormatRank(r RankSnapshot) string {
	if !r.IsRanked() {
		return "Unranked"
	}
	if r.Division == "" {
		return fmt.Sprintf("%s %d LP", r.Tier, r.LP)
	}
	return fmt.Sprintf("%s %s %d LP", r.Tier, r.Division, r.LP)
}

// FormatDelta renders a signed LP change, empty when no baseline existed.
func FormatDelta(delta *int) string {
	if delta == nil {
		return ""
	}
	return fmt.Sprintf("%+d LP", *delta)
}
