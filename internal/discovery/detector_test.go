package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/internal/docstore"
	"github.com/docpipe/docpipe/internal/event"
)

// fakePub records published envelopes.
type fakePub struct {
	mu        sync.Mutex
	envelopes []*event.Envelope
	keys      []string
	fail      bool
}

func (p *fakePub) Publish(_ context.Context, key string, env *event.Envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return false
	}
	p.keys = append(p.keys, key)
	p.envelopes = append(p.envelopes, env)
	return true
}

func (p *fakePub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.envelopes)
}

// listingServer serves a listing page plus the documents it links to.
type listingServer struct {
	*httptest.Server
	mu           sync.Mutex
	lastModified map[string]string // path -> Last-Modified header
	etag         map[string]string
	pdf          map[string][]byte
	heads        int
	downloads    int
}

func newListingServer(t *testing.T) *listingServer {
	t.Helper()
	ls := &listingServer{
		lastModified: make(map[string]string),
		etag:         make(map[string]string),
		pdf:          make(map[string][]byte),
	}
	ls.Server = httptest.NewServer(http.HandlerFunc(ls.handle))
	t.Cleanup(ls.Close)
	return ls
}

func (ls *listingServer) addPDF(path, lastModified string, body []byte) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.lastModified[path] = lastModified
	ls.pdf[path] = body
}

func (ls *listingServer) handle(w http.ResponseWriter, r *http.Request) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if r.URL.Path == "/docs" {
		fmt.Fprint(w, `<html><body>`)
		for p := range ls.pdf {
			fmt.Fprintf(w, `<a href="%s">doc</a>`, p)
		}
		fmt.Fprint(w, `<a href="/not-a-doc.html">skip</a></body></html>`)
		return
	}

	body, ok := ls.pdf[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if lm := ls.lastModified[r.URL.Path]; lm != "" {
		w.Header().Set("Last-Modified", lm)
	}
	if et := ls.etag[r.URL.Path]; et != "" {
		w.Header().Set("ETag", et)
	}
	w.Header().Set("Content-Length", fmt.Sprint(len(body)))
	if r.Method == http.MethodHead {
		ls.heads++
		return
	}
	ls.downloads++
	_, _ = w.Write(body)
}

func newTestDetector(t *testing.T, ls *listingServer, pub Publisher) (*Detector, *docstore.Store) {
	t.Helper()
	store, err := docstore.Open(t.TempDir())
	require.NoError(t, err)
	client := NewClient(2*time.Second, 5*time.Second)
	d := NewDetector(ls.URL+"/docs", client, store, pub, nil)
	return d, store
}

func TestSweep_NewDocumentPublishedAndStored(t *testing.T) {
	ls := newListingServer(t)
	ls.addPDF("/a.pdf", "Mon, 02 Jan 2006 15:04:05 GMT", []byte("%PDF-1.4 a"))

	pub := &fakePub{}
	d, store := newTestDetector(t, ls, pub)

	stats, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Checked: 1, Published: 1}, stats)

	require.Len(t, pub.envelopes, 1)
	assert.Equal(t, event.TypeDocumentDiscovered, pub.keys[0])
	assert.NotEmpty(t, pub.envelopes[0].CorrelationID)

	docID := DocumentID(ls.URL + "/a.pdf")
	rec, ok := store.Get(docID)
	require.True(t, ok)
	assert.Equal(t, "a.pdf", rec.Title)
	assert.NotEmpty(t, rec.Fingerprint)
	data, err := store.ReadBlob(docID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 a"), data)
}

func TestSweep_UnchangedDocumentSkipped(t *testing.T) {
	ls := newListingServer(t)
	ls.addPDF("/a.pdf", "Mon, 02 Jan 2006 15:04:05 GMT", []byte("%PDF-1.4 a"))

	pub := &fakePub{}
	d, _ := newTestDetector(t, ls, pub)

	_, err := d.Sweep(context.Background())
	require.NoError(t, err)

	stats, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Checked: 1, Unchanged: 1}, stats)
	assert.Equal(t, 1, pub.count(), "unchanged document must not re-publish")
	assert.Equal(t, 1, ls.downloads, "unchanged document must not re-download")
}

func TestSweep_ChangedLastModifiedRepublishes(t *testing.T) {
	ls := newListingServer(t)
	ls.addPDF("/a.pdf", "Mon, 02 Jan 2006 15:04:05 GMT", []byte("v1"))

	pub := &fakePub{}
	d, _ := newTestDetector(t, ls, pub)
	_, err := d.Sweep(context.Background())
	require.NoError(t, err)

	ls.addPDF("/a.pdf", "Tue, 03 Jan 2006 15:04:05 GMT", []byte("v2"))
	stats, err := d.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Published)
	assert.Equal(t, 2, pub.count())
}

func TestSweep_MissingBlobTriggersReingestion(t *testing.T) {
	ls := newListingServer(t)
	ls.addPDF("/a.pdf", "Mon, 02 Jan 2006 15:04:05 GMT", []byte("v1"))

	pub := &fakePub{}
	d, store := newTestDetector(t, ls, pub)
	_, err := d.Sweep(context.Background())
	require.NoError(t, err)

	rec, _ := store.Get(DocumentID(ls.URL + "/a.pdf"))
	require.NoError(t, os.Remove(rec.BlobPath))

	stats, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Published, "missing local file must re-trigger ingestion")
}

func TestSweep_PerDocumentFailureIsolated(t *testing.T) {
	ls := newListingServer(t)
	ls.addPDF("/good.pdf", "Mon, 02 Jan 2006 15:04:05 GMT", []byte("ok"))

	// A second server that is immediately closed gives one dead link.
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	pub := &fakePub{}
	store, err := docstore.Open(t.TempDir())
	require.NoError(t, err)

	// Listing page mixing a live link and a dead absolute link.
	listing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<a href="%s/good.pdf">a</a><a href="%s/dead.pdf">b</a>`, ls.URL, dead.URL)
	}))
	defer listing.Close()

	d := NewDetector(listing.URL, NewClient(time.Second, time.Second), store, pub, nil)
	stats, err := d.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Checked)
	assert.Equal(t, 1, stats.Published)
	assert.Equal(t, 1, stats.Failed)
}

func TestSweep_PublishFailureKeepsDocumentRetryable(t *testing.T) {
	ls := newListingServer(t)
	ls.addPDF("/a.pdf", "Mon, 02 Jan 2006 15:04:05 GMT", []byte("v1"))

	pub := &fakePub{fail: true}
	d, store := newTestDetector(t, ls, pub)

	stats, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	// Fingerprint not committed: the document stays unknown, so a later
	// sweep with a healthy broker publishes it.
	_, known := store.Get(DocumentID(ls.URL + "/a.pdf"))
	assert.False(t, known)

	pub.fail = false
	stats, err = d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Published)
}

func TestFetchListing_ResolvesAndDeduplicates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="/a.pdf">x</a><a href="a.pdf">dup</a>`+
			`<a href="b.PDF?v=2">upper</a><a href="/c.txt">no</a>`)
	}))
	defer srv.Close()

	client := NewClient(time.Second, time.Second)
	links, err := client.FetchListing(context.Background(), srv.URL+"/docs")
	require.NoError(t, err)

	require.Len(t, links, 2)
	assert.Equal(t, srv.URL+"/a.pdf", links[0].URL)
	assert.Equal(t, "a.pdf", links[0].Title)
	assert.Equal(t, "b.PDF", links[1].Title)
}

func TestProbe_MarkerPriority(t *testing.T) {
	headers := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
	}))
	defer srv.Close()

	client := NewClient(time.Second, time.Second)

	headers = map[string]string{"Last-Modified": "lm", "Etag": `"e1"`, "Content-Length": "9"}
	marker, err := client.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "lm", marker, "Last-Modified wins over ETag")

	headers = map[string]string{"Etag": `"e1"`}
	marker, err = client.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, `"e1"`, marker)
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("report.pdf", "Mon, 02 Jan 2006 15:04:05 GMT")
	b := Fingerprint("report.pdf", "Mon, 02 Jan 2006 15:04:05 GMT")
	c := Fingerprint("report.pdf", "Tue, 03 Jan 2006 15:04:05 GMT")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestDocumentID_StablePerURL(t *testing.T) {
	assert.Equal(t, DocumentID("https://x/a.pdf"), DocumentID("https://x/a.pdf"))
	assert.NotEqual(t, DocumentID("https://x/a.pdf"), DocumentID("https://x/b.pdf"))
}
