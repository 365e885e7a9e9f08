package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"climatology/harvester/internal/domain"
	"climatology/harvester/internal/enumerator"
	"climatology/harvester/internal/fetcher"
	"climatology/harvester/internal/reconciler"
	"climatology/harvester/internal/retry"
	"climatology/harvester/internal/session"
	"climatology/harvester/internal/session/sessiontest"
	"climatology/harvester/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	catalogBase = "https://catalog.example.com/access"
	filesBase   = "https://files.example.com"
)

// diskTransfer writes a small file for every URL except the ones listed in fail or panicOn.
type diskTransfer struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]bool
	panicOn map[string]bool
}

func (d *diskTransfer) Transfer(ctx context.Context, url, dest string) error {
	d.mu.Lock()
	if d.calls == nil {
		d.calls = make(map[string]int)
	}
	d.calls[url]++
	fail, boom := d.fail[url], d.panicOn[url]
	d.mu.Unlock()

	if boom {
		panic("transfer exploded")
	}
	if fail {
		return errors.New("503 service unavailable")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(url), 0o644)
}

func (d *diskTransfer) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		n += c
	}
	return n
}

type fixture struct {
	site     *sessiontest.Site
	transfer *diskTransfer
	store    state.StateManager
	root     string
	svc      *Service
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()

	f := &fixture{
		site:     sessiontest.NewSite(),
		transfer: &diskTransfer{fail: map[string]bool{}, panicOn: map[string]bool{}},
		store:    state.NewMemoryStateManager(),
		root:     t.TempDir(),
	}

	enum := enumerator.New(enumerator.Config{PageLoad: retry.Policy{MaxAttempts: 3}})
	fetch := fetcher.New(f.transfer, fetcher.Config{Policy: retry.Policy{MaxAttempts: 2}, SkipExisting: true})
	rec := reconciler.New(reconciler.Config{
		OutputRoot: filepath.Join(f.root, "data"),
		MissingDir: filepath.Join(f.root, "missing"),
		Extension:  ".csv",
	}, nil)

	f.svc = NewService(f.site, enum, fetch, rec, f.store, nil, Options{
		UnitWorkers:      workers,
		ItemWorkers:      3,
		OutputRoot:       filepath.Join(f.root, "data"),
		LogRoot:          filepath.Join(f.root, "logs"),
		ArchivePattern:   regexp.MustCompile(`\.tar\.gz$`),
		ProgressInterval: 5 * time.Millisecond,
		ProgressOutput:   io.Discard,
		StartedAt:        time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC),
	})
	return f
}

func (f *fixture) addUnit(key string, l *sessiontest.Listing) domain.CatalogUnit {
	u := domain.CatalogUnit{Key: key, ListingURL: fmt.Sprintf("%s/%s/", catalogBase, key)}
	f.site.Add(u.ListingURL, l)
	return u
}

func byKey(summary *domain.RunSummary) map[string]*domain.UnitResult {
	out := make(map[string]*domain.UnitResult, len(summary.Results))
	for _, r := range summary.Results {
		out[r.Unit.Key] = r
	}
	return out
}

func TestHarvestIsolatesFailures(t *testing.T) {
	f := newFixture(t, 2)

	ok := f.addUnit("2001", sessiontest.Files(filesBase+"/2001", "st", 25, 10))
	empty := f.addUnit("2002", sessiontest.Files(filesBase+"/2002", "st", 0, 10))
	short := f.addUnit("2003", sessiontest.Files(filesBase+"/2003", "st", 5, 10))
	f.transfer.fail[filesBase+"/2003/st004.csv"] = true
	unreachable := domain.CatalogUnit{Key: "2004", ListingURL: catalogBase + "/2004/"}

	summary, err := f.svc.Harvest(context.Background(), []domain.CatalogUnit{ok, empty, short, unreachable})
	require.NoError(t, err)
	require.Len(t, summary.Results, 4)

	results := byKey(summary)

	assert.Equal(t, domain.UnitStatusCompleted, results["2001"].Status)
	assert.Equal(t, 25, results["2001"].Downloaded)
	assert.Equal(t, 0, results["2001"].Report.MissingCount)

	assert.Equal(t, domain.UnitStatusEnumerationFailed, results["2002"].Status)

	assert.Equal(t, domain.UnitStatusIncomplete, results["2003"].Status)
	assert.Equal(t, 4, results["2003"].Downloaded)
	assert.Equal(t, 1, results["2003"].Failed)
	assert.Equal(t, 1, results["2003"].Report.MissingCount)
	assert.FileExists(t, filepath.Join(f.root, "missing", "missing_2003.txt"))

	assert.Equal(t, domain.UnitStatusEnumerationFailed, results["2004"].Status)

	assert.Equal(t, 1, summary.Count(domain.UnitStatusCompleted))

	recorded, err := f.svc.Status(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, recorded, 4)

	assert.FileExists(t, filepath.Join(f.root, "logs", "2003", "error", "error_20261018_080000.log"))
	assert.FileExists(t, filepath.Join(f.root, "logs", "2001", "info", "info_20261018_080000.log"))
}

func TestHarvestIsIdempotent(t *testing.T) {
	f := newFixture(t, 3)
	units := []domain.CatalogUnit{
		f.addUnit("2001", sessiontest.Files(filesBase+"/2001", "st", 12, 5)),
		f.addUnit("2002", sessiontest.Files(filesBase+"/2002", "st", 7, 5)),
	}

	first, err := f.svc.Harvest(context.Background(), units)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Count(domain.UnitStatusCompleted))
	assert.Equal(t, 19, f.transfer.total())

	second, err := f.svc.Harvest(context.Background(), units)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Count(domain.UnitStatusCompleted))
	assert.Equal(t, 19, f.transfer.total(), "second run must not transfer again")

	for _, r := range second.Results {
		assert.Equal(t, r.Items, r.Skipped)
	}
}

func TestHarvestNoSession(t *testing.T) {
	f := newFixture(t, 2)
	f.site.OpenErr = errors.New("chrome not found")

	units := []domain.CatalogUnit{
		f.addUnit("2001", sessiontest.Files(filesBase+"/2001", "st", 3, 5)),
		f.addUnit("2002", sessiontest.Files(filesBase+"/2002", "st", 3, 5)),
	}

	summary, err := f.svc.Harvest(context.Background(), units)
	require.ErrorIs(t, err, domain.ErrNoSession)
	assert.Equal(t, 2, summary.Count(domain.UnitStatusFailed))
}

func TestHarvestBoundsConcurrency(t *testing.T) {
	const workers = 3
	f := newFixture(t, workers)

	var units []domain.CatalogUnit
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("%d", 1990+i)
		units = append(units, f.addUnit(key, sessiontest.Files(filesBase+"/"+key, "st", 4, 2)))
	}

	summary, err := f.svc.Harvest(context.Background(), units)
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Count(domain.UnitStatusCompleted))

	opened, closed, peak := f.site.Stats()
	assert.Equal(t, 10, opened)
	assert.Equal(t, 10, closed)
	assert.LessOrEqual(t, peak, workers)
}

func TestHarvestRecoversPanic(t *testing.T) {
	f := newFixture(t, 2)
	units := []domain.CatalogUnit{
		f.addUnit("2001", sessiontest.Files(filesBase+"/2001", "st", 3, 5)),
		f.addUnit("2002", sessiontest.Files(filesBase+"/2002", "st", 3, 5)),
	}
	f.transfer.panicOn[filesBase+"/2002/st001.csv"] = true

	summary, err := f.svc.Harvest(context.Background(), units)
	require.NoError(t, err)

	results := byKey(summary)
	assert.Equal(t, domain.UnitStatusCompleted, results["2001"].Status)
	assert.Equal(t, domain.UnitStatusFailed, results["2002"].Status)
	assert.Contains(t, results["2002"].Error, "panic")

	_, closed, _ := f.site.Stats()
	assert.Equal(t, 2, closed)
}

func TestHarvestCancelled(t *testing.T) {
	f := newFixture(t, 1)
	units := []domain.CatalogUnit{f.addUnit("2001", sessiontest.Files(filesBase+"/2001", "st", 3, 5))}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.svc.Harvest(ctx, units)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Count(domain.UnitStatusFailed))
	assert.Equal(t, 0, f.transfer.total())
}

func TestDiscover(t *testing.T) {
	f := newFixture(t, 1)
	f.svc.opts.ListingRewrites = []fetcher.Rewrite{{
		Match:   regexp.MustCompile(`/v2/access/`),
		Replace: "/index.html#v2/access/",
	}}

	root := "https://catalog.example.com/index.html#v2/access/"
	f.site.Add(root, &sessiontest.Listing{
		Summary: "Showing 1 to 2 of 4 entries",
		Pages: [][]session.Link{
			{
				{Href: "https://catalog.example.com/v2/access/2002/", Text: "2002/"},
				{Href: "https://catalog.example.com/v2/access/readme.txt", Text: "readme.txt"},
				{Href: "https://catalog.example.com/v2/access/2001/", Text: "2001/"},
			},
			{
				{Href: "https://catalog.example.com/v2/access/2003/", Text: "2003/"},
				{Href: "https://catalog.example.com/v2/access/2001/", Text: "2001/"},
			},
		},
	})

	units, err := f.svc.Discover(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []domain.CatalogUnit{
		{Key: "2001", ListingURL: "https://catalog.example.com/index.html#v2/access/2001/"},
		{Key: "2002", ListingURL: "https://catalog.example.com/index.html#v2/access/2002/"},
		{Key: "2003", ListingURL: "https://catalog.example.com/index.html#v2/access/2003/"},
	}, units)
}

func TestDiscoverNoSession(t *testing.T) {
	f := newFixture(t, 1)
	f.site.OpenErr = errors.New("chrome not found")

	_, err := f.svc.Discover(context.Background(), catalogBase+"/")
	assert.ErrorIs(t, err, domain.ErrNoSession)
}

func TestArchive(t *testing.T) {
	f := newFixture(t, 1)

	listingURL := catalogBase + "/archive/"
	var links []session.Link
	for i := 0; i < 6; i++ {
		links = append(links, session.Link{Href: fmt.Sprintf("%s/archive/lcd_v2.0.0_d%d.tar.gz", filesBase, 2000+i)})
	}
	links = append(links, session.Link{Href: filesBase + "/archive/README.txt"})
	f.site.Add(listingURL, &sessiontest.Listing{Summary: "Showing 1 to 7 of 7 entries", Pages: [][]session.Link{links}})
	f.transfer.fail[filesBase+"/archive/lcd_v2.0.0_d2003.tar.gz"] = true

	dir := filepath.Join(f.root, "archives")
	result, err := f.svc.Archive(context.Background(), listingURL, dir)
	require.NoError(t, err)

	assert.Equal(t, 6, result.Items)
	assert.Equal(t, 5, result.Downloaded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, domain.UnitStatusIncomplete, result.Status)
	assert.FileExists(t, filepath.Join(dir, "lcd_v2.0.0_d2000.tar.gz"))
	assert.NoFileExists(t, filepath.Join(dir, "lcd_v2.0.0_d2003.tar.gz"))
	assert.NoFileExists(t, filepath.Join(dir, "README.txt"))
}

func TestStatusForKeys(t *testing.T) {
	f := newFixture(t, 1)
	units := []domain.CatalogUnit{f.addUnit("2001", sessiontest.Files(filesBase+"/2001", "st", 2, 5))}

	_, err := f.svc.Harvest(context.Background(), units)
	require.NoError(t, err)

	got, err := f.svc.Status(context.Background(), []string{"2001", "1999"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.UnitStatusCompleted, got[0].Status)
}
