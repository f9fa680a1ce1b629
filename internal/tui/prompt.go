package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type passwordModel struct {
	input    textinput.Model
	done     bool
	canceled bool
}

func newPasswordModel(user string) passwordModel {
	ti := textinput.New()
	ti.Prompt = fmt.Sprintf("Password for %s: ", user)
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '•'
	ti.Focus()
	return passwordModel{input: ti}
}

func (m passwordModel) Init() tea.Cmd { return textinput.Blink }

func (m passwordModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit
		case tea.KeyEsc, tea.KeyCtrlC:
			m.canceled = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m passwordModel) View() string {
	if m.done || m.canceled {
		return ""
	}
	return m.input.View() + "\n" + helpStyle.Render("enter submit • esc cancel") + "\n"
}

// PromptPassword reads a password without echoing it.
func PromptPassword(user string, in io.Reader, out io.Writer) (string, error) {
	final, err := tea.NewProgram(newPasswordModel(user), tea.WithInput(in), tea.WithOutput(out)).Run()
	if err != nil {
		return "", fmt.Errorf("tui: password prompt: %w", err)
	}
	m := final.(passwordModel)
	if m.canceled {
		return "", ErrAborted
	}
	return m.input.Value(), nil
}
