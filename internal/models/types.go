package models

// MediaKind represents the kind of content being acquired
type MediaKind string

const (
	KindMovie      MediaKind = "movie"
	KindShow       MediaKind = "show"
	KindAnimeMovie MediaKind = "anime_movie"
	KindAnimeShow  MediaKind = "anime_show"
)

// IsShow reports whether the kind is episodic
func (k MediaKind) IsShow() bool {
	return k == KindShow || k == KindAnimeShow
}

// IsAnime reports whether the kind is an anime variant
func (k MediaKind) IsAnime() bool {
	return k == KindAnimeMovie || k == KindAnimeShow
}

// State represents a pipeline lifecycle state
type State string

const (
	StateRequested  State = "requested"
	StateIndexed    State = "indexed"
	StateScraped    State = "scraped"
	StateDownloaded State = "downloaded"
	StateSymlinked  State = "symlinked"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StatePaused     State = "paused"
)

// Terminal reports whether automatic advancement stops at this state.
// PAUSED counts as terminal until an explicit external resume.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StatePaused
}

// RetryMode is an operator-issued recovery command. The set is closed;
// each mode has a precisely defined effect in the pipeline.
type RetryMode string

const (
	RetryForce       RetryMode = "force"              // clear everything, re-enter REQUESTED
	RetrySymlink     RetryMode = "symlink"            // re-run materialization only
	RetryAllEpisodes RetryMode = "retry-all-episodes" // re-enter SCRAPED for failed episodes
	RetryRescanMount RetryMode = "rescan-mount"       // re-materialize episodes stuck at DOWNLOADED
)

// SourceType is the release source tier parsed from a candidate title
type SourceType string

const (
	SourceRemux  SourceType = "remux"
	SourceBluray SourceType = "bluray"
	SourceWeb    SourceType = "web"
	SourceOther  SourceType = "other"
)
