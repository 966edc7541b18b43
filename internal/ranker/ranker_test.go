package ranker

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fetcharr/fetcharr/internal/models"
)

func gb(n int64) int64 { return n << 30 }

func TestAnimeOrdering(t *testing.T) {
	// Deliberately give the lower-preference candidates better quality so the
	// audio and cache ordering is what decides, not resolution.
	candidates := []models.Candidate{
		{Title: "quality", Resolution: "2160p", Source: models.SourceRemux, Codec: "x265", HDR: true, Size: gb(20), Seeders: 500},
		{Title: "cached-plain", Resolution: "2160p", Source: models.SourceRemux, Codec: "x265", Size: gb(20), Cached: true},
		{Title: "dub", Resolution: "1080p", Source: models.SourceWeb, Codec: "x264", Size: gb(4), Seeders: 150, Dubbed: true},
		{Title: "dual", Resolution: "720p", Source: models.SourceWeb, Size: gb(2), Seeders: 150, DualAudio: true},
		{Title: "cached-dub", Resolution: "480p", Size: gb(1), Cached: true, Dubbed: true},
		{Title: "cached-dual", Resolution: "480p", Size: gb(1), Cached: true, DualAudio: true},
	}

	target := &models.MediaItem{Title: "Some Anime", Kind: models.KindAnimeShow, IsAnime: true}
	ranked := Rank(candidates, target)

	want := []string{"cached-dual", "cached-dub", "dual", "dub", "cached-plain", "quality"}
	for i, name := range want {
		if ranked[i].Title != name {
			t.Errorf("position %d: expected %s, got %s", i, name, ranked[i].Title)
		}
	}
}

func TestCacheDominatesQuality(t *testing.T) {
	candidates := []models.Candidate{
		{Title: "uncached-remux", Resolution: "2160p", Source: models.SourceRemux, Codec: "x265", HDR: true, Size: gb(25), Seeders: 300},
		{Title: "cached-web", Resolution: "720p", Source: models.SourceWeb, Size: gb(2), Cached: true},
	}

	target := &models.MediaItem{Title: "Some Movie", Kind: models.KindMovie}
	ranked := Rank(candidates, target)

	if ranked[0].Title != "cached-web" {
		t.Errorf("expected cached candidate first, got %s", ranked[0].Title)
	}
}

func TestAnimeBonusIgnoredForRegularContent(t *testing.T) {
	dual := models.Candidate{Resolution: "720p", Size: gb(2), Seeders: 100, DualAudio: true}
	plain := models.Candidate{Resolution: "720p", Size: gb(2), Seeders: 100}

	if Score(dual, false) != Score(plain, false) {
		t.Error("dual audio should not affect non-anime scoring")
	}
	if Score(dual, true) <= Score(plain, true) {
		t.Error("dual audio should boost anime scoring")
	}
}

func TestSeedersIrrelevantWhenCached(t *testing.T) {
	dead := models.Candidate{Resolution: "1080p", Size: gb(4), Seeders: 0, Cached: true}
	healthy := models.Candidate{Resolution: "1080p", Size: gb(4), Seeders: 500, Cached: true}

	if Score(dead, false) != Score(healthy, false) {
		t.Error("seeder count should not matter for cached sources")
	}
}

func TestDeadUncachedSourcesSinkToBottom(t *testing.T) {
	candidates := []models.Candidate{
		{Title: "dead", Resolution: "2160p", Source: models.SourceRemux, Codec: "x265", Size: gb(20), Seeders: 0},
		{Title: "modest", Resolution: "720p", Source: models.SourceWeb, Size: gb(2), Seeders: 50},
	}

	ranked := Rank(candidates, &models.MediaItem{Kind: models.KindMovie})
	if ranked[0].Title != "modest" {
		t.Errorf("expected seeded candidate first, got %s", ranked[0].Title)
	}
}

func TestRankIsPure(t *testing.T) {
	candidates := []models.Candidate{
		{Title: "b", Resolution: "720p", Size: gb(2), Seeders: 50},
		{Title: "a", Resolution: "2160p", Source: models.SourceRemux, Size: gb(20), Seeders: 200},
	}
	original := make([]models.Candidate, len(candidates))
	copy(original, candidates)

	first := Rank(candidates, &models.MediaItem{Kind: models.KindMovie})
	second := Rank(candidates, &models.MediaItem{Kind: models.KindMovie})

	if diff := cmp.Diff(original, candidates); diff != "" {
		t.Errorf("input mutated by Rank:\n%s", diff)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Rank is not deterministic:\n%s", diff)
	}
}

func TestTieBreaks(t *testing.T) {
	// Identical scores: larger size wins, then lower backend priority.
	candidates := []models.Candidate{
		{Title: "small", Resolution: "1080p", Size: gb(2), Seeders: 100, BackendPriority: 0},
		{Title: "large", Resolution: "1080p", Size: gb(8), Seeders: 100, BackendPriority: 1},
		{Title: "preferred-backend", Resolution: "1080p", Size: gb(2), Seeders: 100, BackendPriority: 1},
	}

	ranked := Rank(candidates, &models.MediaItem{Kind: models.KindMovie})

	if ranked[0].Title != "large" {
		t.Errorf("expected larger candidate first, got %s", ranked[0].Title)
	}
	if ranked[1].Title != "small" {
		t.Errorf("expected lower backend priority second, got %s", ranked[1].Title)
	}
}
