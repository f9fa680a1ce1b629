package tui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/router-for-me/AuthBridge/sdk/httpclient"
	log "github.com/sirupsen/logrus"
)

type progressMsg struct {
	received int64
	total    int64
}

type doneMsg struct {
	out httpclient.Outcome
	err error
}

type downloadModel struct {
	name     string
	bar      progress.Model
	spin     spinner.Model
	received int64
	total    int64
	lastLog  string
	finished bool
	result   doneMsg
}

func newDownloadModel(name string) downloadModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return downloadModel{
		name:  name,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spin:  s,
		total: -1,
	}
}

func (m downloadModel) Init() tea.Cmd { return m.spin.Tick }

func (m downloadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		m.received, m.total = msg.received, msg.total
		return m, nil
	case logMsg:
		m.lastLog = string(msg)
		return m, nil
	case doneMsg:
		m.finished = true
		m.result = msg
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.finished = true
			m.result = doneMsg{out: httpclient.Cancelled()}
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m downloadModel) percent() float64 {
	if m.total <= 0 {
		return 0
	}
	p := float64(m.received) / float64(m.total)
	if p > 1 {
		p = 1
	}
	return p
}

func (m downloadModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Downloading " + m.name))
	sb.WriteString("\n")
	switch {
	case m.finished && m.result.err != nil:
		sb.WriteString(errorStyle.Render("✗ " + m.result.err.Error()))
	case m.finished && !m.result.out.OK():
		sb.WriteString(errorStyle.Render("✗ " + describe(m.result.out)))
	case m.finished:
		sb.WriteString(successStyle.Render(fmt.Sprintf("✓ %s", formatBytes(m.received))))
	case m.total > 0:
		sb.WriteString(m.bar.ViewAs(m.percent()))
		sb.WriteString(fmt.Sprintf(" %s / %s", formatBytes(m.received), formatBytes(m.total)))
	default:
		sb.WriteString(m.spin.View() + " " + formatBytes(m.received))
	}
	sb.WriteString("\n")
	if m.lastLog != "" && !m.finished {
		sb.WriteString(logLineStyle.Render(m.lastLog) + "\n")
	}
	return sb.String()
}

func describe(out httpclient.Outcome) string {
	if out.Message != "" {
		return out.Message
	}
	return out.Status.String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Download streams url into dst while rendering a progress bar on out. Log entries
// emitted meanwhile are shown under the bar instead of corrupting it.
func Download(ctx context.Context, client *httpclient.Client, url, name string, dst io.Writer, out io.Writer) (httpclient.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newDownloadModel(name), tea.WithOutput(out), tea.WithInput(nil), tea.WithContext(ctx))
	restore := captureLogs(p)
	defer restore()

	go func() {
		var writeErr error
		call := client.GetBinaryStream(ctx, url, func(pr httpclient.Progress) {
			if writeErr != nil {
				return
			}
			if _, writeErr = dst.Write(pr.Chunk); writeErr != nil {
				cancel()
				return
			}
			p.Send(progressMsg{received: pr.Received, total: pr.Total})
		})
		res := call.Wait()
		if writeErr != nil {
			p.Send(doneMsg{out: res, err: fmt.Errorf("tui: write %s: %w", name, writeErr)})
			return
		}
		p.Send(doneMsg{out: res})
	}()

	final, err := p.Run()
	if err != nil {
		return httpclient.Cancelled(), fmt.Errorf("tui: download view: %w", err)
	}
	m := final.(downloadModel)
	if m.result.err != nil {
		log.WithError(m.result.err).Debug("tui: download aborted")
	}
	return m.result.out, m.result.err
}
