package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gilliek/go-opml/opml"

	"github.com/thomaskoefod/cardreadr/internal/database"
	"github.com/thomaskoefod/cardreadr/pkg/models"
)

// ImportResult counts what an OPML import did.
type ImportResult struct {
	Added   int
	Skipped int
}

// ParseOPML returns every feed outline in an OPML document, flattening folders.
func ParseOPML(r io.Reader) ([]models.Feed, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading OPML: %w", err)
	}

	doc, err := opml.NewOPML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing OPML: %w", err)
	}

	var feeds []models.Feed
	var walk func(outlines []opml.Outline)
	walk = func(outlines []opml.Outline) {
		for _, o := range outlines {
			if u := strings.TrimSpace(o.XMLURL); u != "" {
				name := strings.TrimSpace(o.Title)
				if name == "" {
					name = strings.TrimSpace(o.Text)
				}
				feeds = append(feeds, models.Feed{URL: u, Name: name, Enabled: true})
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)

	return feeds, nil
}

// ImportOPML subscribes to every feed in an OPML document. Feeds already
// subscribed are skipped.
func (f *Fetcher) ImportOPML(ctx context.Context, r io.Reader) (ImportResult, error) {
	var res ImportResult

	feeds, err := ParseOPML(r)
	if err != nil {
		return res, err
	}

	for _, fd := range feeds {
		if fd.Name == "" {
			fd.Name = fd.URL
		}
		err := f.db.AddFeed(ctx, &fd)
		if errors.Is(err, database.ErrFeedExists) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, err
		}
		res.Added++
	}

	f.logger.Info().Int("added", res.Added).Int("skipped", res.Skipped).Msg("OPML import complete")
	return res, nil
}
