package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/browser"

	"github.com/thomaskoefod/cardreadr/internal/client"
	"github.com/thomaskoefod/cardreadr/internal/queue"
	"github.com/thomaskoefod/cardreadr/pkg/models"
)

const requestTimeout = 10 * time.Second

type View int

const (
	ViewCard View = iota
	ViewHistory
	ViewHelp
)

// API is the server surface the reader needs.
type API interface {
	FetchNext(ctx context.Context, exclude []int64) (*models.Entry, error)
	GetStats(ctx context.Context) (*models.Stats, error)
	SendVote(ctx context.Context, entryID int64, vote models.Vote) error
	SendOpen(entryID int64)
	SendTime(entryID int64, seconds int)
}

// Prefetcher is the preload queue as seen by the reader.
type Prefetcher interface {
	Next() (models.Entry, bool)
	MarkServed(id int64)
	State() queue.State
	LastError() error
	Exclusion() []int64
	Updates() <-chan struct{}
}

// Saver bookmarks an entry elsewhere, e.g. Raindrop.io.
type Saver interface {
	Enabled() bool
	SaveEntry(ctx context.Context, entry models.Entry) error
}

type Model struct {
	api     API
	queue   Prefetcher
	saver   Saver
	openURL func(string) error
	now     func() time.Time

	view      View
	card      Card
	expanded  bool
	loading   bool
	exhausted bool
	stats     *models.Stats
	history   list.Model
	spinner   spinner.Model
	width     int
	height    int
	err       error
	statusMsg string
}

type queueUpdatedMsg struct{}

type nextFetchedMsg struct {
	entry *models.Entry
	err   error
}

type voteResultMsg struct {
	entry models.Entry
	vote  models.Vote
	err   error
}

type statsLoadedMsg struct {
	stats *models.Stats
}

type errorMsg struct {
	err error
}

type statusMsg string

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	cardTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(1, 2)
)

func New(api API, q Prefetcher, saver Saver) Model {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Voted this session"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle

	s := spinner.New()
	s.Spinner = spinner.Dot

	return Model{
		api:     api,
		queue:   q,
		saver:   saver,
		openURL: browser.OpenURL,
		now:     time.Now,
		view:    ViewCard,
		loading: true,
		history: l,
		spinner: s,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForQueue(m.queue),
		loadStats(m.api),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.history.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case queueUpdatedMsg:
		cmds := []tea.Cmd{waitForQueue(m.queue)}
		if err := m.queue.LastError(); err != nil {
			m.err = err
		}
		if m.card.Phase == PhaseNone {
			var cmd tea.Cmd
			m, cmd = m.advance()
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case nextFetchedMsg:
		return m.handleNextFetched(msg)

	case voteResultMsg:
		return m.handleVoteResult(msg)

	case statsLoadedMsg:
		m.stats = msg.stats
		return m, nil

	case errorMsg:
		m.err = msg.err
		return m, nil

	case statusMsg:
		m.err = nil
		m.statusMsg = string(msg)
		return m, nil
	}

	if m.view == ViewHistory {
		var cmd tea.Cmd
		m.history, cmd = m.history.Update(msg)
		return m, cmd
	}
	return m, nil
}

// advance shows the next buffered entry. With an empty buffer it waits for
// a running fill, or fetches one entry directly when nothing is running.
func (m Model) advance() (Model, tea.Cmd) {
	m.expanded = false
	if e, ok := m.queue.Next(); ok {
		m.card = m.card.Show(e, m.now())
		m.loading = false
		m.exhausted = false
		return m, nil
	}

	m.card = Card{}
	m.loading = true
	if m.queue.State() == queue.StateFilling {
		return m, m.spinner.Tick
	}
	return m, tea.Batch(fetchNext(m.api, m.queue.Exclusion()), m.spinner.Tick)
}

func (m Model) handleNextFetched(msg nextFetchedMsg) (tea.Model, tea.Cmd) {
	if m.card.Phase != PhaseNone {
		return m, nil
	}
	m.loading = false

	if errors.Is(msg.err, client.ErrExhausted) {
		m.exhausted = true
		return m, loadStats(m.api)
	}
	if msg.err != nil {
		m.err = msg.err
		return m, nil
	}

	m.exhausted = false
	m.card = m.card.Show(*msg.entry, m.now())
	m.queue.MarkServed(msg.entry.ID)
	return m, nil
}

func (m Model) handleVoteResult(msg voteResultMsg) (tea.Model, tea.Cmd) {
	if m.card.Phase != PhaseVoting || m.card.Entry.ID != msg.entry.ID {
		return m, nil
	}

	if msg.err != nil {
		m.card = m.card.VoteFailed()
		m.err = fmt.Errorf("vote not saved: %w", msg.err)
		return m, nil
	}

	m.api.SendTime(msg.entry.ID, m.card.Dwell(m.now()))
	insert := m.history.InsertItem(0, historyItem{entry: msg.entry, vote: msg.vote})

	m.err = nil
	m.statusMsg = fmt.Sprintf("Voted %s", msg.vote)
	m.card = m.card.VoteDone()

	var cmd tea.Cmd
	m, cmd = m.advance()
	return m, tea.Batch(insert, cmd, loadStats(m.api))
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.view {
	case ViewCard:
		return m.handleCardKeys(msg)
	case ViewHistory:
		return m.handleHistoryKeys(msg)
	case ViewHelp:
		return m.handleHelpKeys(msg)
	}
	return m, nil
}

func (m Model) handleCardKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if m.card.Phase == PhaseDisplaying {
			m.api.SendTime(m.card.Entry.ID, m.card.Dwell(m.now()))
		}
		return m, tea.Quit

	case "l", "1":
		return m.vote(models.VoteLike)

	case "n", "2":
		return m.vote(models.VoteNeutral)

	case "d", "3":
		return m.vote(models.VoteDislike)

	case "enter", " ":
		if m.card.Phase != PhaseNone {
			m.expanded = !m.expanded
		}
		return m, nil

	case "o":
		if m.card.Phase == PhaseNone {
			return m, nil
		}
		e := m.card.Entry
		m.api.SendOpen(e.ID)
		return m, openLink(m.openURL, e.Permalink)

	case "s":
		if m.card.Phase == PhaseNone {
			return m, nil
		}
		if m.saver == nil || !m.saver.Enabled() {
			return m, func() tea.Msg { return errorMsg{errors.New("raindrop is not configured")} }
		}
		return m, tea.Batch(
			saveEntry(m.saver, m.card.Entry),
			func() tea.Msg { return statusMsg("Saving to Raindrop.io...") },
		)

	case "r":
		if m.card.Phase != PhaseNone {
			return m, nil
		}
		m.err = nil
		return m.advance()

	case "h":
		m.view = ViewHistory
		return m, nil

	case "?":
		m.view = ViewHelp
		return m, nil
	}
	return m, nil
}

func (m Model) vote(v models.Vote) (tea.Model, tea.Cmd) {
	card, ok := m.card.BeginVote()
	if !ok {
		return m, nil
	}
	m.card = card
	m.statusMsg = "Saving vote..."
	return m, sendVote(m.api, card.Entry, v)
}

func (m Model) handleHistoryKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.history.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.history, cmd = m.history.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "esc", "h", "q":
		m.view = ViewCard
		return m, nil

	case "o":
		if i, ok := m.history.SelectedItem().(historyItem); ok {
			m.api.SendOpen(i.entry.ID)
			return m, openLink(m.openURL, i.entry.Permalink)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.history, cmd = m.history.Update(msg)
	return m, cmd
}

func (m Model) handleHelpKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "?", "q":
		m.view = ViewCard
		return m, nil
	case "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	switch m.view {
	case ViewCard:
		return m.renderCardView()
	case ViewHistory:
		return m.renderHistory()
	case ViewHelp:
		return m.renderHelp()
	}
	return ""
}

func (m Model) renderCardView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("cardreadr"))
	s.WriteString("\n")
	if m.stats != nil {
		s.WriteString(helpStyle.Render(fmt.Sprintf("%d/%d reviewed | %d today | +%d =%d -%d | scorer: %s",
			m.stats.PostsReviewed, m.stats.TotalPosts, m.stats.TodayVotes,
			m.stats.Likes, m.stats.Neutral, m.stats.Dislikes, m.stats.Scorer)))
		s.WriteString("\n\n")
	}

	switch {
	case m.card.Phase != PhaseNone:
		s.WriteString(m.renderCard())
	case m.loading:
		s.WriteString(m.spinner.View() + " Loading posts...")
	case m.exhausted && m.stats != nil && m.stats.TotalPosts == 0:
		s.WriteString("No posts yet. Add a feed with `cardreadr add-feed <url>` and refresh.")
	case m.exhausted:
		s.WriteString(statusStyle.Render("All caught up! Press r to check again."))
	default:
		s.WriteString("Press r to load posts.")
	}
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	} else if m.statusMsg != "" {
		s.WriteString(statusStyle.Render(m.statusMsg))
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("l: like • n: neutral • d: dislike • enter: expand • o: open • s: save • h: history • ?: help • q: quit"))

	return s.String()
}

func (m Model) renderCard() string {
	e := m.card.Entry
	width := m.cardWidth()

	var s strings.Builder
	s.WriteString(cardTitleStyle.Render(e.Title))
	s.WriteString("\n")

	meta := []string{e.FeedName}
	if e.Author != "" {
		meta = append(meta, e.Author)
	}
	meta = append(meta, e.PublishedAt.Local().Format("Jan 2, 2006 15:04"))
	if e.WordCount > 0 {
		meta = append(meta, fmt.Sprintf("%d min read", max(1, e.WordCount/230)))
	}
	s.WriteString(helpStyle.Render(strings.Join(meta, " | ")))
	s.WriteString("\n\n")

	if m.expanded && e.Content != "" {
		s.WriteString(renderMarkdown(e.Content, width-4))
	} else {
		s.WriteString(e.Description)
	}

	if e.ImageURL != "" {
		s.WriteString("\n\n")
		s.WriteString(helpStyle.Render("image: " + e.ImageURL))
	}
	s.WriteString("\n")
	s.WriteString(helpStyle.Render(e.Permalink))

	if m.card.Phase == PhaseVoting {
		s.WriteString("\n\n")
		s.WriteString(m.spinner.View() + " Saving vote...")
	}

	return cardStyle.Width(width).Render(s.String())
}

func (m Model) cardWidth() int {
	if m.width <= 0 {
		return 80
	}
	return max(40, min(m.width-2, 100))
}

func (m Model) renderHistory() string {
	var s strings.Builder
	s.WriteString(m.history.View())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("o: open in browser • /: filter • esc: back"))
	return s.String()
}

func (m Model) renderHelp() string {
	help := `
cardreadr - Keyboard Shortcuts

Card:
  l, 1         Like and go to the next card
  n, 2         Neutral and go to the next card
  d, 3         Dislike and go to the next card
  enter        Show or hide the full article
  o            Open the article in your browser
  s            Save the article to Raindrop.io
  r            Look for new posts when caught up
  h            Cards voted this session
  q, ctrl+c    Quit

History:
  ↑/↓, j/k     Navigate
  o            Open in browser
  /            Filter
  esc          Back to the card

General:
  ?            Show/hide this help
`
	return help + "\n" + helpStyle.Render("Press ? or esc to close help")
}

func renderMarkdown(md string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}

func waitForQueue(q Prefetcher) tea.Cmd {
	return func() tea.Msg {
		<-q.Updates()
		return queueUpdatedMsg{}
	}
}

func fetchNext(api API, exclude []int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		e, err := api.FetchNext(ctx, exclude)
		return nextFetchedMsg{entry: e, err: err}
	}
}

func sendVote(api API, entry models.Entry, v models.Vote) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return voteResultMsg{entry: entry, vote: v, err: api.SendVote(ctx, entry.ID, v)}
	}
}

func loadStats(api API) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		stats, err := api.GetStats(ctx)
		if err != nil {
			return errorMsg{err}
		}
		return statsLoadedMsg{stats}
	}
}

func openLink(open func(string) error, url string) tea.Cmd {
	return func() tea.Msg {
		if err := open(url); err != nil {
			return errorMsg{fmt.Errorf("opening browser: %w", err)}
		}
		return statusMsg("Opened in browser")
	}
}

func saveEntry(saver Saver, entry models.Entry) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := saver.SaveEntry(ctx, entry); err != nil {
			return errorMsg{err}
		}
		return statusMsg("Saved to Raindrop.io")
	}
}
