package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	runewidth "github.com/mattn/go-runewidth"
)

// --- Tea messages ---

// turnDoneMsg is sent after a chat turn completes.
type turnDoneMsg struct {
	result *TurnResult
	err    error
}

// transcriptEntry is one rendered turn in the conversation.
type transcriptEntry struct {
	role string // "user" or "assistant"
	text string
}

// Model is the top-level Bubble Tea model for the chat client.
type Model struct {
	client *Client

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	transcript []transcriptEntry
	waiting    bool
	step       int
	infoDone   bool
	errText    string

	width  int
	height int
	ready  bool
}

// NewModel builds the chat model.
func NewModel(client *Client) Model {
	ti := textinput.New()
	ti.Placeholder = "输入消息后回车发送，Ctrl+C 退出"
	ti.Focus()
	ti.CharLimit = 500

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusStyle

	return Model{
		client:  client,
		input:   ti,
		spinner: sp,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// sendTurn runs the HTTP round-trip off the UI goroutine.
func (m *Model) sendTurn(message string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		result, err := client.Send(context.Background(), message, nil)
		return turnDoneMsg{result: result, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 5 // header + input + status
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 4
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.waiting {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.SetValue("")
			m.errText = ""
			m.transcript = append(m.transcript, transcriptEntry{role: "user", text: text})
			m.waiting = true
			m.refreshViewport()
			return m, tea.Batch(m.spinner.Tick, m.sendTurn(text))
		}

	case turnDoneMsg:
		m.waiting = false
		if msg.err != nil {
			m.errText = msg.err.Error()
		} else {
			m.transcript = append(m.transcript, transcriptEntry{role: "assistant", text: msg.result.Response})
			m.step = msg.result.CurrentStep
			m.infoDone = msg.result.InfoComplete
		}
		m.refreshViewport()
		return m, nil

	case spinner.TickMsg:
		if m.waiting {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// refreshViewport re-renders the transcript and scrolls to the bottom.
func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for _, e := range m.transcript {
		if e.role == "user" {
			b.WriteString(userLabelStyle.Render("客户") + "  " + e.text + "\n\n")
		} else {
			b.WriteString(assistantLabelStyle.Render("售后") + "\n" + renderMarkdown(e.text) + "\n\n")
		}
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "加载中..."
	}

	title := headerStyle.Render("电动车售后诊断")
	status := fmt.Sprintf("会话 %s · 步骤 %d", m.client.sessionID, m.step)
	if !m.infoDone {
		status += " · 信息收集中"
	}
	// Right-align the status against the title line.
	pad := m.width - lipgloss.Width(title) - runewidth.StringWidth(status) - 1
	if pad < 1 {
		pad = 1
	}
	header := title + strings.Repeat(" ", pad) + statusStyle.Render(status)

	bottom := m.input.View()
	if m.waiting {
		bottom = m.spinner.View() + " 等待回复..."
	}
	if m.errText != "" {
		bottom += "\n" + errorStyle.Render("✗ "+m.errText)
	}

	return header + "\n" + m.viewport.View() + "\n" + bottom
}

// Run starts the Bubble Tea program.
func Run(client *Client) error {
	p := tea.NewProgram(NewModel(client), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
