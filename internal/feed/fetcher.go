package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/thomaskoefod/cardreadr/internal/content"
	"github.com/thomaskoefod/cardreadr/internal/database"
	"github.com/thomaskoefod/cardreadr/internal/logging"
	"github.com/thomaskoefod/cardreadr/pkg/models"
)

const fetchTimeout = 60 * time.Second

type Fetcher struct {
	db     *database.DB
	parser *gofeed.Parser
	logger zerolog.Logger
	now    func() time.Time
}

// RefreshResult summarizes one pass over the enabled feeds.
type RefreshResult struct {
	Feeds   int
	Failed  int
	Entries int
}

func NewFetcher(db *database.DB) *Fetcher {
	return &Fetcher{
		db:     db,
		parser: gofeed.NewParser(),
		logger: logging.With().Str("component", "feed").Logger(),
		now:    time.Now,
	}
}

// FetchFeed fetches and parses an RSS or Atom feed
func (f *Fetcher) FetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", feedURL, err)
	}
	return feed, nil
}

// FetchAndStore fetches a feed and stores entries not seen before
func (f *Fetcher) FetchAndStore(ctx context.Context, feed *models.Feed) (int, error) {
	parsed, err := f.FetchFeed(ctx, feed.URL)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, item := range parsed.Items {
		entry := f.ConvertItem(item, feed.ID)
		inserted, err := f.db.AddEntry(ctx, entry)
		if err != nil {
			return added, err
		}
		if inserted {
			added++
		}
	}

	return added, nil
}

// FetchAllFeeds refreshes every enabled feed. One failing feed is recorded
// against that feed and does not stop the others.
func (f *Fetcher) FetchAllFeeds(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult

	feeds, err := f.db.GetEnabledFeeds(ctx)
	if err != nil {
		return res, fmt.Errorf("getting enabled feeds: %w", err)
	}

	for i := range feeds {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		feed := &feeds[i]
		res.Feeds++

		count, err := f.FetchAndStore(ctx, feed)
		if err != nil {
			res.Failed++
			f.logger.Warn().Err(err).Str("feed", feed.Name).Msg("Feed refresh failed")
			if rerr := f.db.RecordFeedError(ctx, feed.ID, err.Error()); rerr != nil {
				f.logger.Error().Err(rerr).Int64("feed_id", feed.ID).Msg("Failed to record feed error")
			}
			continue
		}

		if feed.ErrorCount > 0 {
			if err := f.db.ResetFeedErrors(ctx, feed.ID); err != nil {
				f.logger.Error().Err(err).Int64("feed_id", feed.ID).Msg("Failed to reset feed errors")
			}
		}
		res.Entries += count
		f.logger.Debug().Str("feed", feed.Name).Int("new", count).Msg("Feed refreshed")
	}

	f.logger.Info().
		Int("feeds", res.Feeds).
		Int("failed", res.Failed).
		Int("new_entries", res.Entries).
		Msg("Refresh complete")
	return res, nil
}

// Subscribe adds a feed by URL. An empty name is taken from the feed title.
func (f *Fetcher) Subscribe(ctx context.Context, feedURL, name string) (*models.Feed, error) {
	if name == "" {
		parsed, err := f.FetchFeed(ctx, feedURL)
		if err != nil {
			return nil, err
		}
		name = strings.TrimSpace(parsed.Title)
	}
	if name == "" {
		name = feedURL
	}

	feed := &models.Feed{URL: feedURL, Name: name, Enabled: true}
	if err := f.db.AddFeed(ctx, feed); err != nil {
		return nil, err
	}
	return feed, nil
}

// SyncFeeds subscribes to every listed feed not already stored and
// returns how many were added.
func (f *Fetcher) SyncFeeds(ctx context.Context, feeds []models.Feed) (int, error) {
	added := 0
	for _, fd := range feeds {
		name := fd.Name
		if name == "" {
			name = fd.URL
		}
		err := f.db.AddFeed(ctx, &models.Feed{URL: fd.URL, Name: name, Enabled: true})
		if errors.Is(err, database.ErrFeedExists) {
			continue
		}
		if err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// ConvertItem converts a gofeed.Item to an Entry
func (f *Fetcher) ConvertItem(item *gofeed.Item, feedID int64) *models.Entry {
	var publishedAt time.Time
	switch {
	case item.PublishedParsed != nil:
		publishedAt = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		publishedAt = *item.UpdatedParsed
	default:
		publishedAt = f.now()
	}

	link := DropUtmMarkers(item.Link)

	body := item.Content
	if body == "" {
		body = item.Description
	}

	var author string
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = item.Authors[0].Name
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = "Untitled"
	}

	return &models.Entry{
		FeedID:      feedID,
		GUID:        itemGUID(item),
		Title:       title,
		Description: content.Description(item.Description, item.Content),
		Content:     markdownBody(body),
		Author:      author,
		PublishedAt: publishedAt,
		ImageURL:    imageURL(item),
		Link:        link,
		Permalink:   link,
		WordCount:   content.WordCount(body),
		HasMedia:    content.HasMedia(body) || hasMediaEnclosure(item),
	}
}

// itemGUID prefers the feed's own id, then the link. Items with neither get
// a name-based UUID so a refresh maps them to the same row.
func itemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	if item.Link != "" {
		return item.Link
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(item.Title+"\x00"+item.Published)).String()
}

// imageURL takes an image enclosure first, then the item image, then the
// first <img> in the body.
func imageURL(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	if src := content.FirstImage(item.Content); src != "" {
		return src
	}
	return content.FirstImage(item.Description)
}

// markdownBody stores the body as markdown for the card reader, falling
// back to plain text when the HTML does not convert.
func markdownBody(body string) string {
	if body == "" {
		return ""
	}
	out, err := content.Markdown(body)
	if err != nil {
		return content.PlainText(body)
	}
	return strings.TrimSpace(out)
}

func hasMediaEnclosure(item *gofeed.Item) bool {
	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		if strings.HasPrefix(enc.Type, "image/") || strings.HasPrefix(enc.Type, "video/") || strings.HasPrefix(enc.Type, "audio/") {
			return true
		}
	}
	return false
}
