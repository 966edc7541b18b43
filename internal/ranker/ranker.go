// Package ranker scores and orders discovered release candidates.
package ranker

import (
	"sort"
	"strings"

	"github.com/fetcharr/fetcharr/internal/models"
)

// Scoring weights. The anime audio bonuses sit above the cache bonus so the
// anime ordering is: cached+dual > cached+dubbed > dual > dubbed > cached(any)
// > best quality. For everything else cache dominates quality.
const (
	bonusDualAudio = 25000
	bonusDubbed    = 20000
	bonusCached    = 10000
)

var resolutionScores = map[string]int{
	"2160p": 400,
	"1080p": 300,
	"720p":  200,
	"480p":  100,
}

var sourceScores = map[models.SourceType]int{
	models.SourceRemux:  500,
	models.SourceBluray: 400,
	models.SourceWeb:    300,
	models.SourceOther:  100,
}

var codecScores = map[string]int{
	"x265": 100,
	"hevc": 100,
	"av1":  90,
	"x264": 50,
	"h264": 50,
}

// Score computes the deterministic score of one candidate for a target.
// Malformed candidates (missing fields) simply score low; they are never
// excluded, so the caller always gets a total order to attempt.
func Score(c models.Candidate, isAnime bool) int {
	score := resolutionScores[strings.ToLower(c.Resolution)]
	score += sourceScores[c.Source]
	score += codecScores[strings.ToLower(c.Codec)]
	if c.HDR {
		score += 50
	}
	score += sizeScore(c.Size)
	score += seederScore(c)

	if isAnime {
		switch {
		case c.DualAudio:
			score += bonusDualAudio
		case c.Dubbed:
			score += bonusDubbed
		}
	}

	if c.Cached {
		score += bonusCached
	}

	return score
}

func sizeScore(size int64) int {
	gb := float64(size) / (1 << 30)
	switch {
	case gb >= 1 && gb <= 30:
		return 50
	case gb > 30:
		return 30
	case size > 0:
		return 10 // suspiciously small
	default:
		return 0
	}
}

func seederScore(c models.Candidate) int {
	if c.Cached {
		return 0 // seeder health is irrelevant for cached sources
	}
	switch {
	case c.Seeders >= 100:
		return 200
	case c.Seeders >= 50:
		return 150
	case c.Seeders >= 20:
		return 100
	case c.Seeders >= 5:
		return 50
	case c.Seeders > 0:
		return -500
	default:
		return -1000
	}
}

// Rank orders candidates best-first for the target. Pure and deterministic:
// no I/O, no mutation of the input. Ties break by size descending, then by
// configured backend priority, then by input position (stable).
func Rank(candidates []models.Candidate, target *models.MediaItem) []models.Candidate {
	ranked := make([]models.Candidate, len(candidates))
	copy(ranked, candidates)

	scores := make([]int, len(ranked))
	for i, c := range ranked {
		scores[i] = Score(c, target.IsAnime)
	}

	idx := make([]int, len(ranked))
	for i := range idx {
		idx[i] = i
	}

	sort.SliceStable(idx, func(a, b int) bool {
		i, j := idx[a], idx[b]
		if scores[i] != scores[j] {
			return scores[i] > scores[j]
		}
		if ranked[i].Size != ranked[j].Size {
			return ranked[i].Size > ranked[j].Size
		}
		return ranked[i].BackendPriority < ranked[j].BackendPriority
	})

	out := make([]models.Candidate, len(ranked))
	for pos, i := range idx {
		out[pos] = ranked[i]
	}
	return out
}
