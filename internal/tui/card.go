package tui

import (
	"time"

	"github.com/thomaskoefod/cardreadr/pkg/models"
)

type CardPhase int

const (
	PhaseNone CardPhase = iota
	PhaseDisplaying
	PhaseVoting
)

func (p CardPhase) String() string {
	switch p {
	case PhaseDisplaying:
		return "displaying"
	case PhaseVoting:
		return "voting"
	default:
		return "none"
	}
}

// Card is the state of the card on screen. Start is when the entry was
// first shown and survives a failed vote, so dwell time always counts from
// the first display.
type Card struct {
	Phase CardPhase
	Entry models.Entry
	Start time.Time
}

// Show puts a new entry on screen.
func (c Card) Show(e models.Entry, now time.Time) Card {
	return Card{Phase: PhaseDisplaying, Entry: e, Start: now}
}

// BeginVote moves a displayed card into voting. ok is false from any
// other phase, so a second key press while a vote is in flight is ignored.
func (c Card) BeginVote() (Card, bool) {
	if c.Phase != PhaseDisplaying {
		return c, false
	}
	c.Phase = PhaseVoting
	return c, true
}

// VoteFailed returns a voting card to display with its original start.
func (c Card) VoteFailed() Card {
	if c.Phase == PhaseVoting {
		c.Phase = PhaseDisplaying
	}
	return c
}

// VoteDone clears the card after the server accepted the vote.
func (c Card) VoteDone() Card {
	return Card{}
}

// Dwell returns whole seconds since the card was first shown.
func (c Card) Dwell(now time.Time) int {
	if c.Phase == PhaseNone || c.Start.IsZero() {
		return 0
	}
	d := now.Sub(c.Start)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
