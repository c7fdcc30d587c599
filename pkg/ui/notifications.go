package ui

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"mediagrab/pkg/config"
)

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", "--app-name=mediagrab", title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// Notifier prints terminal outcomes and mirrors them as desktop notifications
type Notifier struct {
	sender NotificationSender
	out    io.Writer
	prefs  config.NotificationConfig
}

// NewNotifier picks the sender for the current platform. Platforms without
// one only get console output.
func NewNotifier(prefs config.NotificationConfig) *Notifier {
	var sender NotificationSender
	switch runtime.GOOS {
	case "linux":
		sender = &LinuxNotificationSender{}
	case "darwin":
		sender = &MacOSNotificationSender{}
	}
	return NewNotifierWithSender(sender, os.Stdout, prefs)
}

// NewNotifierWithSender creates a Notifier with an explicit sender and output
func NewNotifierWithSender(sender NotificationSender, out io.Writer, prefs config.NotificationConfig) *Notifier {
	return &Notifier{sender: sender, out: out, prefs: prefs}
}

// SendSuccess reports a delivered archive
func (n *Notifier) SendSuccess(title, message string) {
	fmt.Fprintf(n.out, "\n%s: %s\n", Green(title), Green(message))
	if n.prefs.Enabled && n.prefs.OnComplete {
		n.send(title, message)
	}
}

// SendError reports a failed run
func (n *Notifier) SendError(title, message string) {
	fmt.Fprintf(n.out, "\n%s: %s\n", Red(title), Red(message))
	if n.prefs.Enabled && n.prefs.OnError {
		n.send(title, message)
	}
}

func (n *Notifier) send(title, message string) {
	if n.sender != nil {
		// desktop notifications are best effort
		_ = n.sender.Send(title, message)
	}
}
