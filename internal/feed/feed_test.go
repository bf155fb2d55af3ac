package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mmcdole/gofeed"

	"github.com/thomaskoefod/cardreadr/internal/database"
	"github.com/thomaskoefod/cardreadr/pkg/models"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example Blog</title>
  <link>https://blog.example.com</link>
  <item>
    <title>First post</title>
    <link>https://blog.example.com/first?utm_source=rss&amp;id=1</link>
    <guid>first</guid>
    <pubDate>Mon, 03 Mar 2025 10:00:00 GMT</pubDate>
    <description>&lt;p&gt;Hello &lt;b&gt;world&lt;/b&gt;&lt;/p&gt;&lt;img src="https://img.example.com/a.png"&gt;</description>
  </item>
  <item>
    <title>Second post</title>
    <link>https://blog.example.com/second</link>
    <pubDate>Tue, 04 Mar 2025 10:00:00 GMT</pubDate>
    <description>Plain text summary</description>
    <enclosure url="https://img.example.com/cover.jpg" length="100" type="image/jpeg"/>
  </item>
</channel>
</rss>`

func newTestFetcher(t *testing.T) (*Fetcher, *database.DB) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewFetcher(db), db
}

func feedServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAllFeeds(t *testing.T) {
	f, db := newTestFetcher(t)
	ctx := context.Background()

	good := feedServer(t, rssFixture, http.StatusOK)
	bad := feedServer(t, "not found", http.StatusNotFound)

	db.AddFeed(ctx, &models.Feed{URL: good.URL, Name: "good", Enabled: true})
	db.AddFeed(ctx, &models.Feed{URL: bad.URL, Name: "bad", Enabled: true})

	res, err := f.FetchAllFeeds(ctx)
	if err != nil {
		t.Fatalf("FetchAllFeeds() error = %v", err)
	}
	if res.Feeds != 2 || res.Failed != 1 || res.Entries != 2 {
		t.Errorf("result = %+v, want 2 feeds, 1 failed, 2 entries", res)
	}

	feeds, _ := db.GetFeeds(ctx)
	for _, fd := range feeds {
		if fd.Name == "bad" && (fd.ErrorCount != 1 || fd.LastError == "") {
			t.Errorf("bad feed error state = %d %q", fd.ErrorCount, fd.LastError)
		}
	}

	// a second pass finds nothing new
	res, err = f.FetchAllFeeds(ctx)
	if err != nil {
		t.Fatalf("FetchAllFeeds() error = %v", err)
	}
	if res.Entries != 0 {
		t.Errorf("second refresh added %d entries", res.Entries)
	}
	if n, _ := db.CountEntries(ctx); n != 2 {
		t.Errorf("CountEntries() = %d, want 2", n)
	}
}

func TestConvertItem(t *testing.T) {
	f, _ := newTestFetcher(t)
	parsed, err := gofeed.NewParser().ParseString(rssFixture)
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}

	first := f.ConvertItem(parsed.Items[0], 1)
	if first.GUID != "first" {
		t.Errorf("GUID = %q, want first", first.GUID)
	}
	if first.Link != "https://blog.example.com/first?id=1" {
		t.Errorf("Link = %q, want utm parameters dropped", first.Link)
	}
	if first.Description != "Hello world" {
		t.Errorf("Description = %q", first.Description)
	}
	if first.ImageURL != "https://img.example.com/a.png" || !first.HasMedia {
		t.Errorf("ImageURL = %q, HasMedia = %v", first.ImageURL, first.HasMedia)
	}
	if !strings.Contains(first.Content, "**world**") || strings.Contains(first.Content, "<p>") {
		t.Errorf("Content = %q, want markdown", first.Content)
	}

	second := f.ConvertItem(parsed.Items[1], 1)
	if second.GUID != "https://blog.example.com/second" {
		t.Errorf("GUID = %q, want the link", second.GUID)
	}
	if second.ImageURL != "https://img.example.com/cover.jpg" || !second.HasMedia {
		t.Errorf("ImageURL = %q, HasMedia = %v", second.ImageURL, second.HasMedia)
	}
	if second.PublishedAt.Day() != 4 {
		t.Errorf("PublishedAt = %v", second.PublishedAt)
	}
}

func TestItemGUIDIsStable(t *testing.T) {
	item := &gofeed.Item{Title: "no id", Published: "yesterday"}
	a, b := itemGUID(item), itemGUID(item)
	if a == "" || a != b {
		t.Errorf("itemGUID() = %q then %q", a, b)
	}
	if itemGUID(&gofeed.Item{Title: "other"}) == a {
		t.Error("different items share a guid")
	}
}

func TestSubscribeUsesFeedTitle(t *testing.T) {
	f, _ := newTestFetcher(t)
	srv := feedServer(t, rssFixture, http.StatusOK)

	feed, err := f.Subscribe(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if feed.Name != "Example Blog" {
		t.Errorf("Name = %q, want Example Blog", feed.Name)
	}
	if _, err := f.Subscribe(context.Background(), srv.URL, "again"); err == nil {
		t.Error("duplicate Subscribe() succeeded")
	}
}

const opmlFixture = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="1.0">
  <head><title>subscriptions</title></head>
  <body>
    <outline text="Tech">
      <outline text="Go Blog" title="The Go Blog" type="rss" xmlUrl="https://go.dev/blog/feed.atom"/>
      <outline text="LWN" type="rss" xmlUrl="https://lwn.net/headlines/rss"/>
    </outline>
    <outline text="Solo" type="rss" xmlUrl="https://solo.example.com/rss"/>
  </body>
</opml>`

func TestParseOPML(t *testing.T) {
	feeds, err := ParseOPML(strings.NewReader(opmlFixture))
	if err != nil {
		t.Fatalf("ParseOPML() error = %v", err)
	}
	if len(feeds) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(feeds), feeds)
	}
	if feeds[0].Name != "The Go Blog" || feeds[1].Name != "LWN" {
		t.Errorf("names = %q, %q", feeds[0].Name, feeds[1].Name)
	}

	if _, err := ParseOPML(strings.NewReader("<opml")); err == nil {
		t.Error("ParseOPML() accepted broken XML")
	}
}

func TestImportOPMLSkipsExisting(t *testing.T) {
	f, db := newTestFetcher(t)
	ctx := context.Background()
	db.AddFeed(ctx, &models.Feed{URL: "https://lwn.net/headlines/rss", Name: "LWN", Enabled: true})

	res, err := f.ImportOPML(ctx, strings.NewReader(opmlFixture))
	if err != nil {
		t.Fatalf("ImportOPML() error = %v", err)
	}
	if res.Added != 2 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 2 added, 1 skipped", res)
	}
}

func TestSyncFeeds(t *testing.T) {
	f, db := newTestFetcher(t)
	ctx := context.Background()
	list := []models.Feed{{URL: "https://a.example.com/rss", Name: "a"}, {URL: "https://b.example.com/rss"}}

	if n, err := f.SyncFeeds(ctx, list); err != nil || n != 2 {
		t.Fatalf("SyncFeeds() = %d, %v", n, err)
	}
	if n, err := f.SyncFeeds(ctx, list); err != nil || n != 0 {
		t.Errorf("second SyncFeeds() = %d, %v; want 0", n, err)
	}
	feeds, _ := db.GetFeeds(ctx)
	if len(feeds) != 2 {
		t.Errorf("feeds = %d, want 2", len(feeds))
	}
}

func TestDropUtmMarkers(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://lea.verou.me/blog/2023/state-of-html-2023/", "https://lea.verou.me/blog/2023/state-of-html-2023/"},
		{"https://journal.example.com/post/?utm_source=rss", "https://journal.example.com/post/"},
		{"https://example.com/?a=1&utm_medium=feed&utm_campaign=x", "https://example.com/?a=1"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := DropUtmMarkers(tt.in); got != tt.want {
			t.Errorf("DropUtmMarkers(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
