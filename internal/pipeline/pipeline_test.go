package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fetcharr/fetcharr/internal/materializer"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/resolver"
	"github.com/fetcharr/fetcharr/internal/services/debrid"
	"github.com/fetcharr/fetcharr/internal/services/discovery"
	"github.com/fetcharr/fetcharr/internal/services/metadata"
)

type fakeCatalog struct {
	meta *metadata.Metadata
	err  error
}

func (f *fakeCatalog) Lookup(ctx context.Context, title string, year int, kind models.MediaKind) (*metadata.Metadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.meta, nil
}

type fakeBackend struct {
	candidates []models.Candidate
}

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) Search(ctx context.Context, req discovery.Request) ([]models.Candidate, error) {
	return f.candidates, nil
}

// fakeProvider maps source ids to the file sets behind them
type fakeProvider struct {
	files map[string][]debrid.File
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) CheckCached(ctx context.Context, c models.Candidate) (bool, error) {
	return true, nil
}
func (f *fakeProvider) Add(ctx context.Context, c models.Candidate) (string, error) {
	return "item-" + c.SourceID, nil
}
func (f *fakeProvider) Status(ctx context.Context, itemID string) (debrid.ItemState, error) {
	return debrid.ItemReady, nil
}
func (f *fakeProvider) ListFiles(ctx context.Context, itemID string) ([]debrid.File, error) {
	return f.files[strings.TrimPrefix(itemID, "item-")], nil
}

type testEnv struct {
	db        *models.Database
	pipe      *Pipeline
	catalog   *fakeCatalog
	backend   *fakeBackend
	provider  *fakeProvider
	mountRoot string
	library   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	base := t.TempDir()
	db, err := models.NewDatabase(filepath.Join(base, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		db:        db,
		catalog:   &fakeCatalog{},
		backend:   &fakeBackend{},
		provider:  &fakeProvider{files: make(map[string][]debrid.File)},
		mountRoot: filepath.Join(base, "mount"),
		library:   filepath.Join(base, "library"),
	}

	disc := discovery.NewService([]discovery.Backend{env.backend}, time.Second, logger)
	res := resolver.NewResolver(200*time.Millisecond, 10*time.Millisecond, logger)

	mount := &staticMount{root: env.mountRoot}
	registry := func(name string) (debrid.ProviderClient, bool) { return env.provider, true }
	mat := materializer.NewMaterializer(materializer.Roots{
		Movies:      filepath.Join(env.library, "movies"),
		Shows:       filepath.Join(env.library, "shows"),
		AnimeMovies: filepath.Join(env.library, "anime-movies"),
		AnimeShows:  filepath.Join(env.library, "anime-shows"),
	}, mount, registry, logger)

	env.pipe = NewPipeline(db, env.catalog, disc, res, mat, []debrid.ProviderClient{env.provider}, nil, Options{
		MaxAttempts:    3,
		InitialBackoff: time.Minute,
	}, logger)

	return env
}

type staticMount struct {
	root string
}

func (m *staticMount) Root() string    { return m.root }
func (m *staticMount) Available() bool { return true }

// addSource registers a candidate on the backend, a file set on the provider
// and the file itself under the mount
func (env *testEnv) addSource(t *testing.T, c models.Candidate, files ...debrid.File) {
	t.Helper()
	env.backend.candidates = append(env.backend.candidates, c)
	env.provider.files[c.SourceID] = files
	for _, f := range files {
		path := filepath.Join(env.mountRoot, f.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func (env *testEnv) advance(t *testing.T, id uint64) *models.MediaItem {
	t.Helper()
	if err := env.pipe.Advance(context.Background(), id); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	item, err := env.db.GetItemByID(id)
	if err != nil {
		t.Fatal(err)
	}
	return item
}

func (env *testEnv) advanceEpisode(t *testing.T, id uint64) *models.Episode {
	t.Helper()
	if err := env.pipe.AdvanceEpisode(context.Background(), id); err != nil {
		t.Fatalf("AdvanceEpisode failed: %v", err)
	}
	ep, err := env.db.GetEpisodeByID(id)
	if err != nil {
		t.Fatal(err)
	}
	return ep
}

func requestMovie(t *testing.T, env *testEnv) *models.MediaItem {
	t.Helper()
	item := &models.MediaItem{
		Title: "Dune",
		Year:  2021,
		Kind:  models.KindMovie,
		State: models.StateRequested,
	}
	if err := env.db.CreateItem(item); err != nil {
		t.Fatal(err)
	}
	return item
}

func TestMovieHappyPath(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = &metadata.Metadata{CatalogID: "tt1160419", Title: "Dune", Year: 2021}
	env.addSource(t, models.Candidate{
		Title:      "Dune.2021.1080p.WEB-DL.x264",
		SourceID:   "aaa",
		Resolution: "1080p",
		Cached:     true,
		Size:       4 << 30,
	}, debrid.File{Path: "Dune/movie.mkv", Size: 4 << 30})

	item := requestMovie(t, env)

	wantStates := []models.State{
		models.StateIndexed,
		models.StateScraped,
		models.StateDownloaded,
		models.StateSymlinked,
		models.StateCompleted,
	}
	for _, want := range wantStates {
		got := env.advance(t, item.ID)
		if got.State != want {
			t.Fatalf("expected state %s, got %s (err: %s)", want, got.State, got.LastError)
		}
	}

	final, _ := env.db.GetItemByID(item.ID)
	if final.CatalogID != "tt1160419" {
		t.Errorf("catalog id not recorded: %q", final.CatalogID)
	}
	if final.Provider != "fake" || final.ProviderItemID != "item-aaa" {
		t.Errorf("provider artifacts missing: %+v", final)
	}
	if final.CompletedAt == nil {
		t.Error("completion timestamp missing")
	}

	source, err := os.Readlink(final.MaterializedPath)
	if err != nil {
		t.Fatalf("materialized path is not a symlink: %v", err)
	}
	if source != filepath.Join(env.mountRoot, "Dune/movie.mkv") {
		t.Errorf("symlink points at %s", source)
	}
}

func TestMetadataMissFailsPermanently(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.err = models.ErrMetadataNotFound

	item := requestMovie(t, env)
	got := env.advance(t, item.ID)

	if got.State != models.StateFailed {
		t.Errorf("expected failed, got %s", got.State)
	}
	if got.NextAttemptAt != (time.Time{}) {
		t.Error("permanent failure should not schedule a retry")
	}
}

func TestNoCandidatesRetriesWithBackoff(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = &metadata.Metadata{CatalogID: "tt1", Title: "Obscure", Year: 2020}
	// Backend returns nothing.

	item := requestMovie(t, env)
	env.advance(t, item.ID) // indexed

	got := env.advance(t, item.ID)
	if got.State != models.StateIndexed {
		t.Fatalf("expected to stay indexed, got %s", got.State)
	}
	if got.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", got.RetryCount)
	}
	if !got.NextAttemptAt.After(time.Now()) {
		t.Error("expected a future retry time")
	}
	if got.LastError == "" {
		t.Error("expected the failure recorded")
	}

	// Not due yet, so another pass is a no-op.
	again := env.advance(t, item.ID)
	if again.RetryCount != 1 {
		t.Errorf("advanced a record that was not due: retry count %d", again.RetryCount)
	}
}

func TestRetriesExhaustToFailed(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = &metadata.Metadata{CatalogID: "tt1", Title: "Obscure", Year: 2020}

	item := requestMovie(t, env)
	env.advance(t, item.ID) // indexed

	for i := 0; i < 3; i++ {
		got := env.advance(t, item.ID)
		if got.State == models.StateFailed {
			break
		}
		// Bring the retry forward instead of waiting out the backoff.
		got.NextAttemptAt = time.Now().Add(-time.Second)
		if err := env.db.UpdateItem(got); err != nil {
			t.Fatal(err)
		}
	}

	final, _ := env.db.GetItemByID(item.ID)
	if final.State != models.StateFailed {
		t.Errorf("expected failed after exhausting retries, got %s (count %d)", final.State, final.RetryCount)
	}
}

func TestNoPrincipalFileAdvancesRanking(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = &metadata.Metadata{CatalogID: "tt1", Title: "Dune", Year: 2021}

	// The better-scoring source holds no playable file; the pipeline must
	// reject it and land on the second.
	env.addSource(t, models.Candidate{
		Title:      "Dune.2021.2160p.REMUX",
		SourceID:   "bad",
		Resolution: "2160p",
		Source:     models.SourceRemux,
		Cached:     true,
		Size:       20 << 30,
	}, debrid.File{Path: "Bad/readme.nfo", Size: 1 << 10})
	env.addSource(t, models.Candidate{
		Title:      "Dune.2021.1080p.WEB-DL",
		SourceID:   "good",
		Resolution: "1080p",
		Cached:     true,
		Size:       4 << 30,
	}, debrid.File{Path: "Good/movie.mkv", Size: 4 << 30})

	item := requestMovie(t, env)
	env.advance(t, item.ID) // indexed
	env.advance(t, item.ID) // scraped, best candidate is "bad"

	got := env.advance(t, item.ID) // downloaded
	if got.SourceID != "bad" {
		t.Fatalf("expected the remux chosen first, got %s", got.SourceID)
	}

	got = env.advance(t, item.ID) // materialization rejects the source
	if got.State != models.StateScraped {
		t.Fatalf("expected to re-enter scraped, got %s", got.State)
	}
	if len(got.RejectedSources) != 1 || got.RejectedSources[0] != "bad" {
		t.Fatalf("expected bad source rejected, got %v", got.RejectedSources)
	}

	got = env.advance(t, item.ID) // downloaded again, next candidate
	if got.SourceID != "good" {
		t.Fatalf("expected fallback candidate, got %s", got.SourceID)
	}

	got = env.advance(t, item.ID)
	if got.State != models.StateSymlinked {
		t.Errorf("expected symlinked, got %s", got.State)
	}
}

func showMeta() *metadata.Metadata {
	aired := time.Now().Add(-30 * 24 * time.Hour)
	future := time.Now().Add(30 * 24 * time.Hour)
	return &metadata.Metadata{
		CatalogID: "tt2", Title: "Severance", Year: 2022,
		Seasons: []metadata.SeasonMeta{
			{Number: 1, Episodes: []metadata.EpisodeMeta{
				{Number: 1, Title: "Good News About Hell", AirDate: &aired},
				{Number: 2, Title: "Half Loop", AirDate: &aired},
				{Number: 3, Title: "Unaired", AirDate: &future},
			}},
		},
	}
}

// endedShowMeta is the same show once its whole season has aired
func endedShowMeta() *metadata.Metadata {
	aired := time.Now().Add(-30 * 24 * time.Hour)
	return &metadata.Metadata{
		CatalogID: "tt2", Title: "Severance", Year: 2022,
		Seasons: []metadata.SeasonMeta{
			{Number: 1, Episodes: []metadata.EpisodeMeta{
				{Number: 1, Title: "Good News About Hell", AirDate: &aired},
				{Number: 2, Title: "Half Loop", AirDate: &aired},
			}},
		},
	}
}

func requestShow(t *testing.T, env *testEnv) *models.MediaItem {
	t.Helper()
	item := &models.MediaItem{
		Title: "Severance",
		Year:  2022,
		Kind:  models.KindShow,
		State: models.StateRequested,
	}
	if err := env.db.CreateItem(item); err != nil {
		t.Fatal(err)
	}
	return item
}

func TestShowExpandsAiredEpisodes(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = showMeta()

	item := requestShow(t, env)
	env.advance(t, item.ID) // indexed

	got := env.advance(t, item.ID) // episodes created, parked
	if got.State != models.StateScraped {
		t.Fatalf("expected parked at scraped, got %s", got.State)
	}

	eps, err := env.db.GetEpisodesByShowID(item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(eps) != 2 {
		t.Fatalf("expected 2 aired episodes, got %d", len(eps))
	}
	for _, ep := range eps {
		if ep.State != models.StateRequested {
			t.Errorf("episode S%02dE%02d not requested: %s", ep.Season, ep.Episode, ep.State)
		}
	}
}

func TestShowCompletesWhenAllEpisodesDo(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = endedShowMeta()
	env.addSource(t, models.Candidate{
		Title:      "Severance.S01.1080p.WEB-DL",
		SourceID:   "aaa",
		Resolution: "1080p",
		Cached:     true,
		Size:       2 << 30,
	}, debrid.File{Path: "Severance/ep.mkv", Size: 2 << 30})

	item := requestShow(t, env)
	env.advance(t, item.ID)
	env.advance(t, item.ID)

	eps, _ := env.db.GetEpisodesByShowID(item.ID)
	for _, ep := range eps {
		for i := 0; i < 4; i++ {
			env.advanceEpisode(t, ep.ID)
		}
		final, _ := env.db.GetEpisodeByID(ep.ID)
		if final.State != models.StateCompleted {
			t.Fatalf("episode S%02dE%02d stuck at %s: %s", ep.Season, ep.Episode, final.State, final.LastError)
		}
		if final.MaterializedPath == "" {
			t.Fatal("episode has no materialized path")
		}
	}

	got := env.advance(t, item.ID) // reconcile
	if got.State != models.StateCompleted {
		t.Errorf("expected show completed, got %s", got.State)
	}
}

func TestShowWaitsForUnairedEpisodes(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = showMeta() // two aired episodes, one still to come

	item := requestShow(t, env)
	env.advance(t, item.ID)
	env.advance(t, item.ID)

	eps, _ := env.db.GetEpisodesByShowID(item.ID)
	if len(eps) != 2 {
		t.Fatalf("expected 2 aired episodes, got %d", len(eps))
	}
	for _, ep := range eps {
		ep.State = models.StateCompleted
		if err := env.db.UpdateEpisode(ep); err != nil {
			t.Fatal(err)
		}
	}

	// Every existing record is complete but the catalog still lists an
	// unaired episode, so the show must stay open for it.
	got := env.advance(t, item.ID)
	if got.State != models.StateScraped {
		t.Fatalf("expected show to stay open, got %s", got.State)
	}

	// The finale airs: reconcile picks it up as a new record.
	env.catalog.meta = endedShowMeta()
	env.catalog.meta.Seasons[0].Episodes = append(env.catalog.meta.Seasons[0].Episodes,
		metadata.EpisodeMeta{Number: 3, Title: "In Perpetuity", AirDate: env.catalog.meta.Seasons[0].Episodes[0].AirDate})

	got = env.advance(t, item.ID)
	if got.State != models.StateScraped {
		t.Fatalf("expected show open while the finale runs, got %s", got.State)
	}

	eps, _ = env.db.GetEpisodesByShowID(item.ID)
	if len(eps) != 3 {
		t.Fatalf("expected the aired finale picked up, got %d episodes", len(eps))
	}
	for _, ep := range eps {
		if ep.State == models.StateCompleted {
			continue
		}
		ep.State = models.StateCompleted
		if err := env.db.UpdateEpisode(ep); err != nil {
			t.Fatal(err)
		}
	}

	got = env.advance(t, item.ID)
	if got.State != models.StateCompleted {
		t.Errorf("expected show completed after the finale, got %s", got.State)
	}
}

func TestShowStaysOpenWithStragglers(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = showMeta()

	item := requestShow(t, env)
	env.advance(t, item.ID)
	env.advance(t, item.ID)

	eps, _ := env.db.GetEpisodesByShowID(item.ID)
	// Complete one, fail the other.
	eps[0].State = models.StateCompleted
	if err := env.db.UpdateEpisode(eps[0]); err != nil {
		t.Fatal(err)
	}
	eps[1].State = models.StateFailed
	if err := env.db.UpdateEpisode(eps[1]); err != nil {
		t.Fatal(err)
	}

	got := env.advance(t, item.ID)
	if got.State != models.StateScraped {
		t.Errorf("expected show still open, got %s", got.State)
	}
}

func TestRetryAllEpisodes(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = showMeta()

	item := requestShow(t, env)
	env.advance(t, item.ID)
	env.advance(t, item.ID)

	eps, _ := env.db.GetEpisodesByShowID(item.ID)
	eps[0].State = models.StateCompleted
	env.db.UpdateEpisode(eps[0])
	eps[1].State = models.StateFailed
	eps[1].LastError = "no resolvable source"
	eps[1].RetryCount = 3
	env.db.UpdateEpisode(eps[1])

	if err := env.pipe.Retry(item.ID, models.RetryAllEpisodes); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	first, _ := env.db.GetEpisodeByID(eps[0].ID)
	if first.State != models.StateCompleted {
		t.Errorf("completed episode should be untouched, got %s", first.State)
	}

	second, _ := env.db.GetEpisodeByID(eps[1].ID)
	if second.State != models.StateScraped {
		t.Errorf("failed episode should re-enter scraped, got %s", second.State)
	}
	if second.RetryCount != 0 || second.LastError != "" {
		t.Error("bookkeeping should be cleared by the command")
	}
}

func TestRetryForceStartsOver(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = &metadata.Metadata{CatalogID: "tt1", Title: "Dune", Year: 2021}
	env.addSource(t, models.Candidate{
		Title: "Dune.2021.1080p.WEB-DL", SourceID: "aaa", Resolution: "1080p", Cached: true, Size: 4 << 30,
	}, debrid.File{Path: "Dune/movie.mkv", Size: 4 << 30})

	item := requestMovie(t, env)
	for i := 0; i < 5; i++ {
		env.advance(t, item.ID)
	}

	if err := env.pipe.Retry(item.ID, models.RetryForce); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	got, _ := env.db.GetItemByID(item.ID)
	if got.State != models.StateRequested {
		t.Errorf("expected requested, got %s", got.State)
	}
	if got.CatalogID != "" || got.SourceID != "" || got.ProviderItemID != "" || got.MaterializedPath != "" {
		t.Errorf("artifacts not cleared: %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("completion timestamp not cleared")
	}
}

func TestRetrySymlinkReusesResolvedSource(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = &metadata.Metadata{CatalogID: "tt1", Title: "Dune", Year: 2021}
	env.addSource(t, models.Candidate{
		Title: "Dune.2021.1080p.WEB-DL", SourceID: "aaa", Resolution: "1080p", Cached: true, Size: 4 << 30,
	}, debrid.File{Path: "Dune/movie.mkv", Size: 4 << 30})

	item := requestMovie(t, env)
	for i := 0; i < 5; i++ {
		env.advance(t, item.ID)
	}

	if err := env.pipe.Retry(item.ID, models.RetrySymlink); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	got, _ := env.db.GetItemByID(item.ID)
	if got.State != models.StateDownloaded {
		t.Fatalf("expected downloaded, got %s", got.State)
	}
	if got.ProviderItemID != "item-aaa" {
		t.Error("resolved source should be kept")
	}

	got = env.advance(t, item.ID)
	if got.State != models.StateSymlinked {
		t.Errorf("expected re-materialized, got %s", got.State)
	}
}

func TestRescanMountClearsBackoff(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = &metadata.Metadata{CatalogID: "tt1", Title: "Dune", Year: 2021}
	env.addSource(t, models.Candidate{
		Title: "Dune.2021.1080p.WEB-DL", SourceID: "aaa", Resolution: "1080p", Cached: true, Size: 4 << 30,
	}, debrid.File{Path: "Dune/movie.mkv", Size: 4 << 30})

	item := requestMovie(t, env)
	stored, _ := env.db.GetItemByID(item.ID)
	stored.State = models.StateDownloaded
	stored.Provider = "fake"
	stored.ProviderItemID = "item-aaa"
	stored.SourceID = "aaa"
	stored.LastError = "mount unavailable"
	stored.RetryCount = 2
	stored.NextAttemptAt = time.Now().Add(time.Hour)
	if err := env.db.UpdateItem(stored); err != nil {
		t.Fatal(err)
	}

	if err := env.pipe.Retry(item.ID, models.RetryRescanMount); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	got, _ := env.db.GetItemByID(item.ID)
	if got.State != models.StateDownloaded {
		t.Errorf("state should stay downloaded, got %s", got.State)
	}
	if !got.Due(time.Now()) {
		t.Error("rescan-mount should make the item due immediately")
	}
	if got.RetryCount != 0 || got.LastError != "" {
		t.Error("bookkeeping should be cleared")
	}

	// The next pass materializes without touching the resolver again.
	got = env.advance(t, item.ID)
	if got.State != models.StateSymlinked {
		t.Fatalf("expected symlinked after rescan, got %s (%s)", got.State, got.LastError)
	}
	if got.ProviderItemID != "item-aaa" {
		t.Error("rescan must not re-resolve the provider item")
	}
}

func TestUnknownRetryMode(t *testing.T) {
	env := newTestEnv(t)
	item := requestMovie(t, env)

	if err := env.pipe.Retry(item.ID, models.RetryMode("frobnicate")); err == nil {
		t.Error("expected an error for an unknown mode")
	}
}

func TestPauseAndResume(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = &metadata.Metadata{CatalogID: "tt1", Title: "Dune", Year: 2021}
	env.addSource(t, models.Candidate{
		Title: "Dune.2021.1080p.WEB-DL", SourceID: "aaa", Resolution: "1080p", Cached: true, Size: 4 << 30,
	}, debrid.File{Path: "Dune/movie.mkv", Size: 4 << 30})

	item := requestMovie(t, env)
	env.advance(t, item.ID) // indexed
	env.advance(t, item.ID) // scraped

	if err := env.pipe.Pause(item.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	got := env.advance(t, item.ID) // paused records are skipped
	if got.State != models.StatePaused {
		t.Fatalf("expected paused, got %s", got.State)
	}

	if err := env.pipe.Resume(item.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	got, _ = env.db.GetItemByID(item.ID)
	if got.State != models.StateScraped {
		t.Errorf("expected resume at scraped, got %s", got.State)
	}
}

func TestPauseShowPausesEpisodes(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = showMeta()
	env.addSource(t, models.Candidate{
		Title:      "Severance.S01.1080p.WEB-DL",
		SourceID:   "aaa",
		Resolution: "1080p",
		Cached:     true,
		Size:       2 << 30,
	}, debrid.File{Path: "Severance/ep.mkv", Size: 2 << 30})

	item := requestShow(t, env)
	env.advance(t, item.ID)
	env.advance(t, item.ID)

	eps, _ := env.db.GetEpisodesByShowID(item.ID)
	// One episode mid-flight, one untouched.
	env.advanceEpisode(t, eps[0].ID) // scraped, source chosen

	if err := env.pipe.Pause(item.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	for _, ep := range eps {
		got, _ := env.db.GetEpisodeByID(ep.ID)
		if got.State != models.StatePaused {
			t.Fatalf("episode S%02dE%02d not paused with its show: %s", got.Season, got.Episode, got.State)
		}
	}

	// Workers must not move a paused episode.
	got := env.advanceEpisode(t, eps[0].ID)
	if got.State != models.StatePaused {
		t.Fatalf("paused episode advanced to %s", got.State)
	}

	if err := env.pipe.Resume(item.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	first, _ := env.db.GetEpisodeByID(eps[0].ID)
	if first.State != models.StateScraped {
		t.Errorf("episode with a chosen source should resume at scraped, got %s", first.State)
	}
	second, _ := env.db.GetEpisodeByID(eps[1].ID)
	if second.State != models.StateRequested {
		t.Errorf("untouched episode should resume at requested, got %s", second.State)
	}

	// Resumed episodes pick the pipeline back up.
	got = env.advanceEpisode(t, eps[0].ID)
	if got.State != models.StateDownloaded {
		t.Errorf("expected the resumed episode to advance, got %s (%s)", got.State, got.LastError)
	}
}

func TestPauseLeavesCompletedEpisodesAlone(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = showMeta()

	item := requestShow(t, env)
	env.advance(t, item.ID)
	env.advance(t, item.ID)

	eps, _ := env.db.GetEpisodesByShowID(item.ID)
	eps[0].State = models.StateCompleted
	if err := env.db.UpdateEpisode(eps[0]); err != nil {
		t.Fatal(err)
	}

	if err := env.pipe.Pause(item.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	done, _ := env.db.GetEpisodeByID(eps[0].ID)
	if done.State != models.StateCompleted {
		t.Errorf("completed episode should not be paused, got %s", done.State)
	}

	if err := env.pipe.Resume(item.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	done, _ = env.db.GetEpisodeByID(eps[0].ID)
	if done.State != models.StateCompleted {
		t.Errorf("completed episode should survive resume, got %s", done.State)
	}
}

func TestRecordLocksAreReleased(t *testing.T) {
	env := newTestEnv(t)

	unlock := env.pipe.lock(itemKey(1))
	env.pipe.mu.Lock()
	held := len(env.pipe.locks)
	env.pipe.mu.Unlock()
	if held != 1 {
		t.Fatalf("expected 1 lock entry while held, got %d", held)
	}

	// A contender keeps the entry alive across the first release.
	acquired := make(chan struct{})
	go func() {
		u := env.pipe.lock(itemKey(1))
		u()
		close(acquired)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		env.pipe.mu.Lock()
		refs := env.pipe.locks[itemKey(1)].refs
		env.pipe.mu.Unlock()
		if refs == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("contender never registered on the lock entry")
		}
		time.Sleep(time.Millisecond)
	}

	unlock()
	<-acquired

	env.pipe.mu.Lock()
	left := len(env.pipe.locks)
	env.pipe.mu.Unlock()
	if left != 0 {
		t.Errorf("expected no lock entries after release, got %d", left)
	}
}

func TestDeleteRemovesLibraryEntry(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = &metadata.Metadata{CatalogID: "tt1", Title: "Dune", Year: 2021}
	env.addSource(t, models.Candidate{
		Title: "Dune.2021.1080p.WEB-DL", SourceID: "aaa", Resolution: "1080p", Cached: true, Size: 4 << 30,
	}, debrid.File{Path: "Dune/movie.mkv", Size: 4 << 30})

	item := requestMovie(t, env)
	for i := 0; i < 5; i++ {
		env.advance(t, item.ID)
	}
	completed, _ := env.db.GetItemByID(item.ID)

	if err := env.pipe.Delete(item.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := env.db.GetItemByID(item.ID); err == nil {
		t.Error("item record should be gone")
	}
	if _, err := os.Lstat(completed.MaterializedPath); !os.IsNotExist(err) {
		t.Error("materialized entry should be removed with the item")
	}
}

func TestResetClearsEverything(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.meta = &metadata.Metadata{CatalogID: "tt1", Title: "Dune", Year: 2021}
	env.addSource(t, models.Candidate{
		Title: "Dune.2021.1080p.WEB-DL", SourceID: "aaa", Resolution: "1080p", Cached: true, Size: 4 << 30,
	}, debrid.File{Path: "Dune/movie.mkv", Size: 4 << 30})

	item := requestMovie(t, env)
	for i := 0; i < 5; i++ {
		env.advance(t, item.ID)
	}
	completed, _ := env.db.GetItemByID(item.ID)

	if err := env.pipe.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	got, _ := env.db.GetItemByID(item.ID)
	if got.State != models.StateRequested {
		t.Errorf("expected requested after reset, got %s", got.State)
	}
	if _, err := os.Lstat(completed.MaterializedPath); !os.IsNotExist(err) {
		t.Error("materialized entry should be removed on reset")
	}
}
