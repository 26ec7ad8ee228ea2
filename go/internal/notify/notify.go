// Package notify is the fire-and-forget user notification surface. The core
// stores report outcomes through it and never block on, or read back, the
// presentation of a message.
package notify

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Level is the presentation severity of a message.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelError   Level = "error"
)

// Message is one user-facing notice. Undo, when set, is an action the
// presentation layer may offer within Timeout.
type Message struct {
	Level   Level
	Text    string
	Undo    func()
	Timeout time.Duration
}

// Notifier receives messages for display. Implementations must return
// promptly; delivery is best effort.
type Notifier interface {
	Notify(msg Message)
}

// Success sends a success-level notice.
func Success(n Notifier, text string) {
	n.Notify(Message{Level: LevelSuccess, Text: text})
}

// Info sends an info-level notice.
func Info(n Notifier, text string) {
	n.Notify(Message{Level: LevelInfo, Text: text})
}

// Error sends an error-level notice.
func Error(n Notifier, text string) {
	n.Notify(Message{Level: LevelError, Text: text})
}

// LogNotifier writes messages to the structured log. It is the default sink
// when no presentation layer is attached.
type LogNotifier struct{}

func (LogNotifier) Notify(msg Message) {
	ev := log.Info()
	if msg.Level == LevelError {
		ev = log.Warn()
	}
	ev.Str("level", string(msg.Level)).
		Bool("undoable", msg.Undo != nil).
		Msg(msg.Text)
}
