package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"

	"github.com/thomaskoefod/cardreadr/pkg/models"
)

// historyItem is a card the reader already voted on this session.
type historyItem struct {
	entry models.Entry
	vote  models.Vote
}

func (i historyItem) Title() string {
	return voteMarker(i.vote) + " " + i.entry.Title
}

func (i historyItem) Description() string {
	return fmt.Sprintf("%s | %s", i.entry.FeedName, i.entry.PublishedAt.Format("Jan 2, 2006"))
}

func (i historyItem) FilterValue() string {
	return i.entry.Title
}

func voteMarker(v models.Vote) string {
	switch v {
	case models.VoteLike:
		return "+"
	case models.VoteDislike:
		return "-"
	default:
		return "="
	}
}

var _ list.Item = historyItem{}
