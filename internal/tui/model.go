package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"study-rag/internal/models"
	"study-rag/internal/rag"
)

const askTimeout = 2 * time.Minute

// Asker is the TUI-facing subset of the chat service.
type Asker interface {
	Ask(ctx context.Context, req rag.Request) (*rag.Response, error)
}

type answerMsg struct {
	question string
	resp     *rag.Response
	err      error
}

// Model is a question loop over a fixed set of documents. The chat session
// is created by the first answer and reused afterwards.
type Model struct {
	service     Asker
	userID      string
	documentIDs []string
	sessionID   string

	input    textinput.Model
	viewport viewport.Model
	question string
	answer   *rag.Response
	cursor   int
	status   string
	busy     bool
	ready    bool
}

func New(service Asker, userID string, documentIDs []string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your documents and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		service:     service,
		userID:      userID,
		documentIDs: documentIDs,
		input:       ti,
		viewport:    viewport.New(0, 0),
		status:      fmt.Sprintf("%d document(s) selected. Up/Down cycles sources.", len(documentIDs)),
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) ask(question string) tea.Cmd {
	req := rag.Request{UserID: m.userID, SessionID: m.sessionID, Message: question, DocumentIDs: m.documentIDs}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
		defer cancel()
		resp, err := m.service.Ask(ctx, req)
		return answerMsg{question: question, resp: resp, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, ah := answerBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-ah)
		m.viewport.SetContent(m.render())
		return m, nil

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.question = msg.question
		m.answer = msg.resp
		m.sessionID = msg.resp.SessionID
		m.cursor = 0
		m.status = fmt.Sprintf("Answered with %s retrieval, %d source(s)", msg.resp.Strategy, len(msg.resp.Sources))
		m.viewport.SetContent(m.render())
		m.viewport.GotoTop()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Thinking..."
			m.input.SetValue("")
			return m, m.ask(q)
		case "down", "up":
			if m.answer != nil && len(m.answer.Sources) > 0 {
				n := len(m.answer.Sources)
				if msg.String() == "down" {
					m.cursor = (m.cursor + 1) % n
				} else {
					m.cursor = (m.cursor - 1 + n) % n
				}
				m.viewport.SetContent(m.render())
				return m, nil
			}
		case "pgdown", "pgup":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("Study Assistant")
	if m.sessionID != "" {
		header += mutedStyle.Render("  session " + m.sessionID)
	}
	status := statusStyle.Render(m.status)
	return header + "\n" + answerBoxStyle.Render(m.viewport.View()) + "\n" + queryBoxStyle.Render(m.input.View()) + "\n" + status
}

func (m Model) render() string {
	if m.answer == nil {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(questionStyle.Render("Q: "+m.question) + "\n\n")
	b.WriteString(highlightCitations(m.answer.Message))
	if len(m.answer.Sources) == 0 {
		return b.String()
	}
	src := m.answer.Sources[m.cursor]
	b.WriteString("\n\n" + mutedStyle.Render(sourceTitle(src, m.cursor, len(m.answer.Sources))) + "\n")
	b.WriteString(src.Text)
	return b.String()
}

func sourceTitle(s models.Source, i, n int) string {
	page := "page ?"
	if s.Page != nil {
		page = fmt.Sprintf("page %d", *s.Page)
	}
	return fmt.Sprintf("Source %d/%d  %s  similarity=%.3f", i+1, n, page, s.Similarity)
}

// highlightCitations renders every [Page N] marker in the answer.
func highlightCitations(text string) string {
	return citationRe.ReplaceAllStringFunc(text, func(c string) string { return citationStyle.Render(c) })
}
