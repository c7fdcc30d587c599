package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const logo = `
  █▀▄▀█ █▀▀ █▀▄ █ ▄▀█   █▀▀ █▀█ ▄▀█ █▄▄
  █ ▀ █ ██▄ █▄▀ █ █▀█   █▄█ █▀▄ █▀█ █▄█
`

// color is an ANSI SGR parameter
type color string

const (
	cyan    color = "36"
	yellow  color = "33"
	red     color = "31"
	green   color = "32"
	magenta color = "35"
	dim     color = "2"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr

	// colors are off when stdout is piped or NO_COLOR is set
	colorOn = os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))
)

// SetOutput redirects the Print helpers. A nil writer leaves that stream unchanged.
func SetOutput(out, errOut io.Writer) {
	if out != nil {
		stdout = out
	}
	if errOut != nil {
		stderr = errOut
	}
}

// SetColor forces ANSI colors on or off
func SetColor(on bool) {
	colorOn = on
}

func paint(c color, text string) string {
	if !colorOn {
		return text
	}
	return "\033[" + string(c) + "m" + text + "\033[0m"
}

func Cyan(s string) string    { return paint(cyan, s) }
func Yellow(s string) string  { return paint(yellow, s) }
func Red(s string) string     { return paint(red, s) }
func Green(s string) string   { return paint(green, s) }
func Magenta(s string) string { return paint(magenta, s) }
func Dim(s string) string     { return paint(dim, s) }

// PrintLogo prints the banner with the version under it
func PrintLogo(version string) {
	fmt.Fprint(stdout, Cyan(logo))
	fmt.Fprintln(stdout, Dim("  scroll · collect · archive   v"+version))
	fmt.Fprintln(stdout)
}

// joinDetail appends ": detail" for every extra argument
func joinDetail(msg string, details []interface{}) string {
	if len(details) == 0 {
		return msg
	}
	parts := make([]string, 0, len(details)+1)
	parts = append(parts, msg)
	for _, d := range details {
		parts = append(parts, fmt.Sprint(d))
	}
	return strings.Join(parts, ": ")
}

// PrintError writes msg to stderr
func PrintError(msg string, details ...interface{}) {
	fmt.Fprintln(stderr, Red(joinDetail(msg, details)))
}

func PrintSuccess(msg string) {
	fmt.Fprintln(stdout, Green(msg))
}

// PrintInfo prints "label: value"
func PrintInfo(label string, value string) {
	fmt.Fprintf(stdout, "%s: %s\n", Cyan(label), Yellow(value))
}

func PrintWarning(msg string, details ...interface{}) {
	fmt.Fprintln(stdout, Yellow(joinDetail(msg, details)))
}
