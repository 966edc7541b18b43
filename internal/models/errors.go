package models

import "errors"

// Stage failure kinds. The pipeline stores the summary on the record and
// picks the next transition from the kind, so these are sentinel errors
// rather than free-form strings.
var (
	ErrMetadataNotFound   = errors.New("metadata not found")
	ErrNoCandidates       = errors.New("no candidates found")
	ErrNoResolvableSource = errors.New("no resolvable source")
	ErrMountUnavailable   = errors.New("mount unavailable")
	ErrNoPrincipalFile    = errors.New("no principal media file")
	ErrProviderRejected   = errors.New("provider rejected source")
)

// Retryable reports whether a failure kind is worth an automatic retry
// with backoff. NoCandidates counts because discovery catalogs change
// over time; MountUnavailable because mounts recover.
func Retryable(err error) bool {
	return errors.Is(err, ErrMountUnavailable) || errors.Is(err, ErrNoCandidates)
}
