package tui

import (
	"io"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/router-for-me/AuthBridge/internal/logging"
	log "github.com/sirupsen/logrus"
)

type logMsg string

// programHook forwards log entries to a running program as logMsg.
type programHook struct {
	mu        sync.Mutex
	send      func(tea.Msg)
	formatter log.Formatter
}

func (h *programHook) Levels() []log.Level { return log.AllLevels }

func (h *programHook) Fire(entry *log.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.send == nil {
		return nil
	}
	b, err := h.formatter.Format(entry)
	line := entry.Message
	if err == nil {
		line = strings.TrimRight(string(b), "\r\n")
	}
	h.send(logMsg(line))
	return nil
}

func (h *programHook) detach() {
	h.mu.Lock()
	h.send = nil
	h.mu.Unlock()
}

// captureLogs silences the logger's output for the lifetime of p and routes entries
// into it. The returned function restores the previous output.
func captureLogs(p *tea.Program) func() {
	logger := log.StandardLogger()
	hook := &programHook{send: p.Send, formatter: &logging.LogFormatter{}}
	hooks := make(log.LevelHooks)
	for level, hs := range logger.Hooks {
		hooks[level] = append([]log.Hook(nil), hs...)
	}
	hooks.Add(hook)
	previousHooks := logger.ReplaceHooks(hooks)
	previous := logger.Out
	logger.SetOutput(io.Discard)
	return func() {
		hook.detach()
		logger.ReplaceHooks(previousHooks)
		logger.SetOutput(previous)
	}
}
