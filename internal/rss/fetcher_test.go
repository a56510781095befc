package rss

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRSSFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test RSS Feed</title>
    <description>A test RSS feed</description>
    <link>https://example.com</link>
    <item>
      <title>Самолёт приземлился</title>
      <link>https://example.com/post-1</link>
      <guid>rss-guid-1</guid>
      <description>&lt;p&gt;Первый&lt;/p&gt;&lt;p&gt;рейс &amp;amp; пассажиры&lt;/p&gt;</description>
      <pubDate>Mon, 01 Jan 2024 12:00:00 GMT</pubDate>
    </item>
    <item>
      <link>  https://example.com/post-2  </link>
      <guid>rss-guid-2</guid>
    </item>
  </channel>
</rss>`

const testAtomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Test Atom Feed</title>
  <subtitle>A test Atom feed</subtitle>
  <link href="https://example.com" rel="alternate"/>
  <entry>
    <title>Atom Post One</title>
    <id>atom-id-1</id>
    <link href="https://example.com/atom-1" rel="alternate"/>
    <summary>First Atom post summary</summary>
    <updated>2024-01-01T12:00:00Z</updated>
  </entry>
  <entry>
    <title>Atom Post Two</title>
    <id>atom-id-2</id>
    <link href="https://example.com/atom-2" rel="alternate"/>
    <content>Second Atom post content body</content>
    <updated>2024-01-02T12:00:00Z</updated>
  </entry>
</feed>`

func testFetcher() *Fetcher {
	return NewFetcher(FetcherConfig{
		Timeout:     2 * time.Second,
		Retries:     2,
		RetryBase:   time.Millisecond,
		DomainDelay: 0,
	})
}

func serve(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_RSS(t *testing.T) {
	srv := serve(t, "application/rss+xml", testRSSFeed)

	entries, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "Самолёт приземлился", entries[0].Title)
	assert.Equal(t, "https://example.com/post-1", entries[0].Link)
	assert.Equal(t, "Первый рейс & пассажиры", entries[0].Content)

	// Missing title and description become empty strings.
	assert.Equal(t, "", entries[1].Title)
	assert.Equal(t, "", entries[1].Content)
	assert.Equal(t, "https://example.com/post-2", entries[1].Link)
}

func TestFetch_Atom(t *testing.T) {
	srv := serve(t, "application/atom+xml", testAtomFeed)

	entries, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// First entry has a summary
	assert.Equal(t, "Atom Post One", entries[0].Title)
	assert.Equal(t, "https://example.com/atom-1", entries[0].Link)
	assert.Equal(t, "First Atom post summary", entries[0].Content)

	// Second entry has content instead of summary
	assert.Equal(t, "Atom Post Two", entries[1].Title)
	assert.Equal(t, "https://example.com/atom-2", entries[1].Link)
	assert.Equal(t, "Second Atom post content body", entries[1].Content)
}

func TestFetch_ServerErrorIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testRSSFeed))
	}))
	defer srv.Close()

	entries, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantHits int32
	}{
		{
			name: "not found is not retried",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantHits: 1,
		},
		{
			name: "malformed payload is not retried",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("this is not a feed"))
			},
			wantHits: 1,
		},
		{
			name: "persistent server error exhausts retries",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantHits: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			_, err := testFetcher().Fetch(context.Background(), srv.URL)
			require.Error(t, err)

			var fetchErr *FetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, srv.URL, fetchErr.URL)
			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{Timeout: 50 * time.Millisecond, RetryBase: time.Millisecond})

	start := time.Now()
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetch_UnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := NewFetcher(FetcherConfig{Timeout: time.Second, RetryBase: time.Millisecond})
	_, err := f.Fetch(context.Background(), url)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
}

func TestFetch_CancelledContext(t *testing.T) {
	srv := serve(t, "application/rss+xml", testRSSFeed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testFetcher().Fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<b>Бежал</b>!", "Бежал !"},
		{"  много   пробелов \n\t ", "много пробелов"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"<script>alert(1)</script>текст", "текст"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitize(tt.in))
		})
	}
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "example.com", extractDomain("https://example.com/feed.xml"))
	assert.Equal(t, "example.com:8080", extractDomain("http://example.com:8080/rss"))
	assert.Equal(t, "not a url", extractDomain("not a url"))
}

func TestDomainLimiter(t *testing.T) {
	dl := newDomainLimiter(1, 30*time.Millisecond)
	ctx := context.Background()

	release, err := dl.acquire(ctx, "example.com")
	require.NoError(t, err)

	// The only slot is taken, so a second caller waits until its context ends.
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = dl.acquire(waitCtx, "example.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Other hosts are independent.
	other, err := dl.acquire(ctx, "example.org")
	require.NoError(t, err)
	other()

	release()
	start := time.Now()
	release, err = dl.acquire(ctx, "example.com")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	release()
}
