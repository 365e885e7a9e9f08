package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"climatology/harvester/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingPage = `<html><body>
<div class="dataTables_info">Showing %d to %d of 3 entries</div>
<table><tr><td>%s</td></tr></table>
<ul class="pagination"><a href="/list?page=1">1</a><a href="/list?page=2">2</a><a href="#">Next</a></ul>
</body></html>`

func newListingServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "", "1":
			fmt.Fprintf(w, listingPage, 1, 2, `<a href="files/a.csv">a.csv</a><a href="files/b.csv">b.csv</a>`)
		case "2":
			fmt.Fprintf(w, listingPage, 3, 3, `<a href="https://mirror.example.com/c.csv">c.csv</a>`)
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func openStatic(t *testing.T) Session {
	t.Helper()

	f := NewStaticFactory(StaticConfig{Timeout: 5 * time.Second})
	t.Cleanup(func() { f.Close() })

	s, err := f.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStaticSessionNavigateAndRead(t *testing.T) {
	srv := newListingServer(t)
	s := openStatic(t)
	ctx := context.Background()

	require.NoError(t, s.Navigate(ctx, srv.URL+"/list"))

	text, err := s.WaitFor(ctx, "div.dataTables_info", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Showing 1 to 2 of 3 entries", text)

	links, err := s.Links(ctx, "table a")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, srv.URL+"/files/a.csv", links[0].Href)
	assert.Equal(t, "a.csv", links[0].Text)
}

func TestStaticSessionClickFollowsPager(t *testing.T) {
	srv := newListingServer(t)
	s := openStatic(t)
	ctx := context.Background()

	require.NoError(t, s.Navigate(ctx, srv.URL+"/list"))
	require.NoError(t, s.Click(ctx, Selector{CSS: "ul.pagination a", Text: "2"}, time.Second))

	links, err := s.Links(ctx, "table a")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "https://mirror.example.com/c.csv", links[0].Href)

	err = s.Click(ctx, Selector{CSS: "ul.pagination a", Text: "Next"}, time.Second)
	assert.Error(t, err)

	err = s.Click(ctx, Selector{CSS: "ul.pagination a", Text: "9"}, time.Second)
	assert.Error(t, err)
}

func TestStaticSessionWaitTimeout(t *testing.T) {
	srv := newListingServer(t)
	s := openStatic(t)
	ctx := context.Background()

	require.NoError(t, s.Navigate(ctx, srv.URL+"/list"))

	_, err := s.WaitFor(ctx, "div.missing", 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrWaitTimeout))
}

func TestStaticSessionHTTPError(t *testing.T) {
	srv := newListingServer(t)
	s := openStatic(t)

	err := s.Navigate(context.Background(), srv.URL+"/broken")
	assert.Error(t, err)

	_, err = s.Links(context.Background(), "a")
	assert.Error(t, err, "no page should be loaded after a failed navigation")
}

func TestStaticSessionRefresh(t *testing.T) {
	srv := newListingServer(t)
	s := openStatic(t)
	ctx := context.Background()

	assert.Error(t, s.Refresh(ctx))

	require.NoError(t, s.Navigate(ctx, srv.URL+"/list?page=2"))
	require.NoError(t, s.Refresh(ctx))

	text, err := s.WaitFor(ctx, "div.dataTables_info", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Showing 3 to 3 of 3 entries", text)
}
