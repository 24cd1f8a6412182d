package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"secretary/internal/channels"
)

const (
	roleUser   = "user"
	roleBot    = "assistant"
	roleSystem = "system"
)

type bubble struct {
	role string
	text string
	at   time.Time
}

// outputMsg carries a message the bot sent to the console.
type outputMsg Output

// processedMsg reports that the handler finished with a typed message.
type processedMsg struct {
	err error
}

// ModelConfig holds the configuration for creating a console chat model
type ModelConfig struct {
	Adapter  *Adapter
	Handler  channels.MessageHandler
	Context  context.Context
	Title    string
	Location *time.Location
	Renderer *lipgloss.Renderer
}

// Model is the console chat BubbleTea model
type Model struct {
	config   ModelConfig
	styles   Styles
	viewport viewport.Model
	input    textarea.Model
	bubbles  []bubble
	waiting  bool
	width    int
	height   int
}

// NewModel creates the console chat model
func NewModel(config ModelConfig) Model {
	r := config.Renderer
	if r == nil {
		r = lipgloss.DefaultRenderer()
	}
	if config.Context == nil {
		config.Context = context.Background()
	}
	if config.Title == "" {
		config.Title = "secretary"
	}
	styles := NewStyles(r)

	ti := textarea.New()
	ti.Placeholder = "輸入訊息… (Enter 送出, Ctrl+C 離開)"
	ti.ShowLineNumbers = false
	ti.SetHeight(3)
	ti.SetWidth(80)
	ti.CharLimit = 2000
	ti.Focus()

	vp := viewport.New(80, 20)

	m := Model{
		config:   config,
		styles:   styles,
		viewport: vp,
		input:    ti,
	}
	m.addBubble(roleSystem, fmt.Sprintf("Chatting as %s. Type /help for commands.", config.Adapter.UserID()))
	return m
}

// Init starts listening for bot output
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForOutput())
}

func (m Model) waitForOutput() tea.Cmd {
	out := m.config.Adapter.Output()
	return func() tea.Msg {
		return outputMsg(<-out)
	}
}

func (m Model) send(text string) tea.Cmd {
	ctx := m.config.Context
	handler := m.config.Handler
	msg := m.config.Adapter.Inbound(text)
	return func() tea.Msg {
		return processedMsg{err: handler.Process(ctx, msg)}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.waiting {
				return m, nil
			}
			m.input.Reset()
			m.addBubble(roleUser, text)
			m.waiting = true
			return m, m.send(text)
		}

	case outputMsg:
		role := roleBot
		if msg.Kind != KindReply {
			role = roleSystem
		}
		m.addBubble(role, msg.Text)
		cmds = append(cmds, m.waitForOutput())

	case processedMsg:
		m.waiting = false
		if msg.err != nil {
			m.addBubble(roleSystem, "error: "+msg.err.Error())
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) addBubble(role, text string) {
	m.bubbles = append(m.bubbles, bubble{role: role, text: text, at: time.Now()})
	m.viewport.SetContent(m.renderBubbles())
	m.viewport.GotoBottom()
}

func (m *Model) updateLayout() {
	inputHeight := m.input.Height() + 1
	titleHeight := 1
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-inputHeight-titleHeight, 1)
	m.input.SetWidth(m.width)
	m.viewport.SetContent(m.renderBubbles())
	m.viewport.GotoBottom()
}

func (m Model) renderBubbles() string {
	width := m.viewport.Width
	var b strings.Builder
	for i, bb := range m.bubbles {
		if i > 0 {
			b.WriteString("\n")
		}
		ts := bb.at
		if m.config.Location != nil {
			ts = ts.In(m.config.Location)
		}
		stamp := m.styles.Muted.Render(ts.Format("15:04"))

		switch bb.role {
		case roleUser:
			b.WriteString(m.styles.UserLabel.Render("You") + " " + stamp + "\n")
			b.WriteString(m.styles.UserBubble.Width(max(width-6, 10)).Render(bb.text))
		case roleBot:
			b.WriteString(m.styles.AssistantLabel.Render(m.config.Title) + " " + stamp + "\n")
			b.WriteString(m.styles.AssistantBubble.Width(max(width-6, 10)).Render(bb.text))
		default:
			b.WriteString(m.styles.SystemBubble.Width(max(width-2, 10)).Render(bb.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// View renders the model
func (m Model) View() string {
	title := m.styles.Title.Render(m.config.Title)
	if m.waiting {
		title += " " + m.styles.Muted.Render("thinking…")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.viewport.View(),
		m.styles.InputStyle.Render(m.input.View()),
	)
}

// Run starts the console chat in the terminal and blocks until the user quits.
func Run(ctx context.Context, config ModelConfig) error {
	config.Context = ctx
	p := tea.NewProgram(
		NewModel(config),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("console error: %w", err)
	}
	return nil
}
