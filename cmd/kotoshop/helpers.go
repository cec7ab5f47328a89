package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/joss/kotoshop/internal/domain"
	"github.com/joss/kotoshop/internal/render"
	"github.com/joss/kotoshop/internal/store"
)

// stdin is shared by the password prompt and the shell.
var stdin = bufio.NewReader(os.Stdin)

// exitOnError prints err and exits. Inside the shell it only prints.
func exitOnError(err error) bool {
	if err == nil {
		return false
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if !inShell {
		if shop != nil {
			_ = shop.Close()
		}
		os.Exit(1)
	}
	return true
}

type terminalNavigator struct{}

func (terminalNavigator) RedirectToLogin(reason string) {
	msg := "Run 'login' to sign in again."
	if reason != "logout" {
		msg = fmt.Sprintf("Session ended (%s). %s", reason, msg)
	}
	if pretty {
		msg = color.YellowString(msg)
	}
	fmt.Fprintln(os.Stderr, msg)
}

// openStore returns the process store, creating it on first use.
func openStore(ctx context.Context) *store.Store {
	if shop != nil {
		return shop
	}
	s, err := store.New(ctx, store.Options{Navigator: terminalNavigator{}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	shop = s
	return shop
}

// requireSession exits unless a session was restored or created.
func requireSession(s *store.Store) bool {
	if s.SignedIn() {
		return true
	}
	exitOnError(errors.New("not signed in, run 'kotoshop login'"))
	return false
}

// emit prints v in the selected structured format, or text otherwise.
func emit(v interface{}, text func() string) {
	if output == render.FormatText {
		fmt.Print(text())
		return
	}
	exitOnError(render.Encode(os.Stdout, output, v))
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Invalid(what, fmt.Sprintf("%q is not a positive number", s))
	}
	return id, nil
}

// readPassword prompts without echo on a terminal and falls back to a
// plain line read when stdin is piped.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
