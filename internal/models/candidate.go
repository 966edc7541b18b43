package models

// Candidate is one discovered release, produced by a discovery backend and
// consumed by the ranker and resolver. Candidates never outlive a single
// resolution attempt and are not persisted.
type Candidate struct {
	Title      string
	SourceID   string // info hash or backend-specific id
	Resolution string // "2160p", "1080p", ...
	Source     SourceType
	Codec      string
	HDR        bool
	Size       int64
	Seeders    int

	Cached    bool // reported cached on at least one configured provider
	DualAudio bool
	Dubbed    bool

	Backend         string // discovery backend that produced it
	BackendPriority int    // position in the configured backend preference list
}
