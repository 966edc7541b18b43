// Package materializer creates the filesystem entries a media server scans,
// pointing at provider-held data through the mount.
package materializer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/services/debrid"
	"github.com/fetcharr/fetcharr/internal/utils"
)

var mediaExtensions = map[string]bool{
	".mkv": true,
	".mp4": true,
	".avi": true,
	".mov": true,
	".m4v": true,
	".wmv": true,
	".ts":  true,
}

// Target identifies what a materialized entry is for. Episode targets carry
// season and episode numbers; movie targets leave them nil.
type Target struct {
	Title   string
	Year    int
	Kind    models.MediaKind
	Season  *int
	Episode *int
}

// Roots holds the per-kind library roots the media server scans
type Roots struct {
	Movies      string
	Shows       string
	AnimeMovies string
	AnimeShows  string
}

// ProviderRegistry resolves a provider name to its client
type ProviderRegistry func(name string) (debrid.ProviderClient, bool)

// Materializer links provider file sets into the library tree
type Materializer struct {
	roots     Roots
	mount     Mount
	providers ProviderRegistry
	logger    *logrus.Logger
}

// NewMaterializer creates a materializer
func NewMaterializer(roots Roots, mount Mount, providers ProviderRegistry, logger *logrus.Logger) *Materializer {
	return &Materializer{
		roots:     roots,
		mount:     mount,
		providers: providers,
		logger:    logger,
	}
}

// Materialize creates the deterministic filesystem entry for target backed by
// ref and returns its path. Idempotent: if the destination already points at
// the same source it is left alone.
//
// Failure kinds: ErrNoPrincipalFile when the file set holds no known media
// file (candidate-level, advance ranking); ErrMountUnavailable when the mount
// is unreachable or the file has not propagated yet (retryable).
func (m *Materializer) Materialize(ctx context.Context, target Target, ref models.ProviderRef) (string, error) {
	if !m.mount.Available() {
		return "", fmt.Errorf("mount root %s: %w", m.mount.Root(), models.ErrMountUnavailable)
	}

	provider, ok := m.providers(ref.Provider)
	if !ok {
		return "", fmt.Errorf("unknown provider %q", ref.Provider)
	}

	files, err := provider.ListFiles(ctx, ref.ItemID)
	if err != nil {
		return "", fmt.Errorf("list files on %s: %w", ref.Provider, err)
	}

	principal, err := principalFile(files)
	if err != nil {
		return "", err
	}

	source := filepath.Join(m.mount.Root(), principal.Path)
	if _, err := os.Stat(source); err != nil {
		// Ready on the provider but not visible through the mount yet.
		return "", fmt.Errorf("source %s not visible in mount: %w", source, models.ErrMountUnavailable)
	}

	dest := m.destPath(target, filepath.Ext(principal.Path))

	if existing, err := os.Readlink(dest); err == nil {
		if existing == source {
			return dest, nil
		}
		if err := os.Remove(dest); err != nil {
			return "", fmt.Errorf("replace stale entry: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("create library directory: %w", err)
	}
	if err := os.Symlink(source, dest); err != nil {
		return "", fmt.Errorf("create symlink: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"dest":   dest,
		"source": source,
	}).Info("Materialized library entry")

	return dest, nil
}

// Remove deletes a previously materialized entry, ignoring already-gone paths
func (m *Materializer) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// principalFile picks the largest file with a known media extension.
// Subtitles and extras in multi-file releases are ignored.
func principalFile(files []debrid.File) (debrid.File, error) {
	var best debrid.File
	found := false
	for _, f := range files {
		if !mediaExtensions[strings.ToLower(filepath.Ext(f.Path))] {
			continue
		}
		if !found || f.Size > best.Size {
			best = f
			found = true
		}
	}
	if !found {
		return debrid.File{}, models.ErrNoPrincipalFile
	}
	return best, nil
}

// destPath derives the deterministic destination from content kind and
// identity: movies as Title (Year)/Title (Year).ext, shows as
// Title/Season NN/Title - SNNENN.ext, anime under the anime roots.
func (m *Materializer) destPath(target Target, ext string) string {
	title := utils.CleanFilename(target.Title)

	if target.Kind.IsShow() && target.Season != nil && target.Episode != nil {
		root := m.roots.Shows
		if target.Kind == models.KindAnimeShow {
			root = m.roots.AnimeShows
		}
		season := fmt.Sprintf("Season %02d", *target.Season)
		name := fmt.Sprintf("%s - S%02dE%02d%s", title, *target.Season, *target.Episode, ext)
		return filepath.Join(root, title, season, name)
	}

	root := m.roots.Movies
	if target.Kind == models.KindAnimeMovie {
		root = m.roots.AnimeMovies
	}
	dir := fmt.Sprintf("%s (%d)", title, target.Year)
	return filepath.Join(root, dir, dir+ext)
}
