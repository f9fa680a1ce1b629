package tui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/router-for-me/AuthBridge/internal/util"
	"github.com/router-for-me/AuthBridge/sdk/session"
)

// ErrAborted is returned when the user leaves a prompt without choosing.
var ErrAborted = errors.New("tui: aborted")

type sessionRow struct {
	index  int
	user   string
	id     string
	access string
}

func rowsOf[T session.Identity](st session.State[T]) []sessionRow {
	rows := make([]sessionRow, 0, len(st.Sessions))
	for i, s := range st.Sessions {
		id := s.ID
		if len(id) > 8 {
			id = id[:8]
		}
		access := "-"
		if s.AccessToken != "" {
			access = util.HideToken(s.AccessToken)
		}
		rows = append(rows, sessionRow{index: i, user: s.User(), id: id, access: access})
	}
	return rows
}

func renderRows(rows []sessionRow, active, cursor int) string {
	var sb strings.Builder
	header := fmt.Sprintf("  %-3s %-24s %-10s %s", "#", "USER", "ID", "ACCESS TOKEN")
	sb.WriteString(tableHeaderStyle.Render(header))
	sb.WriteString("\n")
	for _, r := range rows {
		marker := "  "
		if r.index == active {
			marker = successStyle.Render("● ")
		}
		user := r.user
		if len(user) > 24 {
			user = user[:21] + "..."
		}
		line := fmt.Sprintf("%-3d %-24s %-10s %s", r.index, user, r.id, r.access)
		style := tableCellStyle
		if r.index == cursor {
			style = tableSelectedStyle
		}
		sb.WriteString(marker + style.Render(line) + "\n")
	}
	return sb.String()
}

// RenderSessions draws the stored sessions, marking the active one.
func RenderSessions[T session.Identity](st session.State[T]) string {
	if len(st.Sessions) == 0 {
		return subtitleStyle.Render("No stored sessions.") + "\n"
	}
	return renderRows(rowsOf(st), st.ActiveIndex, -1)
}

type pickerModel struct {
	rows     []sessionRow
	active   int
	cursor   int
	chosen   int
	canceled bool
}

func newPicker[T session.Identity](st session.State[T]) pickerModel {
	cursor := st.ActiveIndex
	if cursor < 0 || cursor >= len(st.Sessions) {
		cursor = 0
	}
	return pickerModel{rows: rowsOf(st), active: st.ActiveIndex, cursor: cursor, chosen: -1}
}

func (m pickerModel) Init() tea.Cmd { return nil }

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
	case "enter":
		m.chosen = m.cursor
		return m, tea.Quit
	case "q", "esc", "ctrl+c":
		m.canceled = true
		return m, tea.Quit
	}
	return m, nil
}

func (m pickerModel) View() string {
	if m.chosen >= 0 || m.canceled {
		return ""
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Switch session"),
		renderRows(m.rows, m.active, m.cursor),
		helpStyle.Render("↑/↓ move • enter select • q cancel"),
	)
}

// PickSession lets the user choose a session interactively and returns its index.
func PickSession[T session.Identity](st session.State[T], in io.Reader, out io.Writer) (int, error) {
	if len(st.Sessions) == 0 {
		return -1, errors.New("tui: no stored sessions")
	}
	final, err := tea.NewProgram(newPicker(st), tea.WithInput(in), tea.WithOutput(out)).Run()
	if err != nil {
		return -1, fmt.Errorf("tui: session picker: %w", err)
	}
	m := final.(pickerModel)
	if m.canceled || m.chosen < 0 {
		return -1, ErrAborted
	}
	return m.chosen, nil
}
