package models

import "time"

type Feed struct {
	ID         int64     `json:"id"`
	URL        string    `json:"url"`
	Name       string    `json:"name"`
	Enabled    bool      `json:"enabled"`
	ErrorCount int       `json:"error_count"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Entry is a candidate article. The core only ever reads entries.
type Entry struct {
	ID          int64     `json:"id"`
	FeedID      int64     `json:"feed_id"`
	FeedName    string    `json:"feed_name"`
	GUID        string    `json:"-"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content,omitempty"` // markdown
	Author      string    `json:"author"`
	PublishedAt time.Time `json:"published_at"`
	ImageURL    string    `json:"image_url,omitempty"`
	Link        string    `json:"link"`
	Permalink   string    `json:"permalink"`
	WordCount   int       `json:"word_count"`
	HasMedia    bool      `json:"has_media"`
}

// Vote is one of the closed set of reactions a card can receive.
type Vote string

const (
	VoteLike    Vote = "like"
	VoteNeutral Vote = "neutral"
	VoteDislike Vote = "dislike"
)

// Valid reports whether v is a member of the vote enumeration.
func (v Vote) Valid() bool {
	switch v {
	case VoteLike, VoteNeutral, VoteDislike:
		return true
	}
	return false
}

type VoteRecord struct {
	EntryID int64     `json:"entry_id"`
	Vote    Vote      `json:"vote"`
	VotedAt time.Time `json:"voted_at"`
}

type EntryDetails struct {
	EntryID          int64      `json:"entry_id"`
	Vote             *Vote      `json:"vote"`
	VotedAt          *time.Time `json:"voted_at"`
	OpenCount        int        `json:"open_count"`
	TotalTimeSeconds int        `json:"total_time_seconds"`
}

type Stats struct {
	TotalPosts        int     `json:"total_posts"`
	PostsReviewed     int     `json:"posts_reviewed"`
	PostsRemaining    int     `json:"posts_remaining"`
	Likes             int     `json:"likes"`
	Neutral           int     `json:"neutral"`
	Dislikes          int     `json:"dislikes"`
	LinksOpened       int     `json:"links_opened"`
	TotalTimeSeconds  int     `json:"total_time_seconds"`
	TotalTimeMinutes  float64 `json:"total_time_minutes"`
	TodayVotes        int     `json:"today_votes"`
	CompletionPercent float64 `json:"completion_percent"`
	Scorer            string  `json:"scorer"`
}

// ScorerModel is a registered, uploaded scoring model file.
type ScorerModel struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Filename   string    `json:"filename"`
	IsActive   bool      `json:"is_active"`
	UploadedAt time.Time `json:"uploaded_at"`
	Metadata   string    `json:"metadata,omitempty"`
}

type UserInterest struct {
	ID          int64   `json:"id"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
	Embedding   []byte  `json:"embedding,omitempty"`
}
