package common

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	success = color.New(color.FgGreen)
	warning = color.New(color.FgYellow)
	failure = color.New(color.FgRed)
)

// Prints welcome banner
func PrintWelcome(w io.Writer, name, version string) {
	success.Fprintf(w, "%s %s\n", name, version)
}

func PrintSuccess(w io.Writer, format string, args ...any) {
	success.Fprintf(w, format+"\n", args...)
}

func PrintWarning(w io.Writer, format string, args ...any) {
	warning.Fprintf(w, format+"\n", args...)
}

func PrintError(w io.Writer, err error) {
	failure.Fprintln(w, err)
}

// Reads a password from STDIN without echoing it
func ReadPassword(prompt string) ([]byte, error) {
	fmt.Printf("%s> ", prompt)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Returns a key password prompt when STDIN is a terminal, or nil when
// the relay is not running interactively.
func KeyPasswordPrompt() func(nickname string) ([]byte, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	return func(nickname string) ([]byte, error) {
		return ReadPassword(fmt.Sprintf("Private key password (%s)", nickname))
	}
}
