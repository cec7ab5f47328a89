package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joss/kotoshop/internal/metrics"
	"github.com/joss/kotoshop/internal/store"
)

func shellCmd() *cobra.Command {
	var metricsPort int
	var watch bool

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive session sharing one store",
		Long: `Run commands against a single long-lived store. Background refreshes
and forced logouts are reported as they happen.

  kotoshop shell --metrics-port 9464`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := openStore(ctx)
			inShell = true
			defer func() { inShell = false }()

			if err := s.Start(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}

			if metricsPort > 0 {
				srv := metrics.NewServer(metricsPort)
				if err := srv.Start(); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "metrics on http://%s/metrics\n", srv.Addr())
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Stop(stopCtx)
				}()
			}
			if watch {
				defer s.Subscribe(watcher())()
			}

			return repl(ctx, stdin, os.Stdout)
		},
	}
	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Serve Prometheus metrics on this port")
	cmd.Flags().BoolVar(&watch, "watch", false, "Print cart and session changes")
	return cmd
}

type lineReader interface {
	ReadString(delim byte) (string, error)
}

func repl(ctx context.Context, in lineReader, out io.Writer) error {
	prompt := "kotoshop> "
	if pretty {
		prompt = color.CyanString(prompt)
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, prompt)
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				return nil
			}
			return err
		}

		words, perr := splitArgs(line)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", perr)
			continue
		}
		if len(words) == 0 {
			continue
		}
		switch words[0] {
		case "exit", "quit":
			return nil
		case "shell":
			fmt.Fprintln(os.Stderr, "Error: already in a shell")
			continue
		}

		root := newRootCmd()
		root.SetArgs(words)
		root.SetOut(out)
		_ = root.ExecuteContext(ctx)
	}
}

// splitArgs splits a command line on spaces, honoring single and double
// quotes and backslash escapes.
func splitArgs(line string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		quote   rune
		escaped bool
		inWord  bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		return nil, errors.New("trailing backslash")
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}

// watcher reports session and cart transitions between snapshots.
func watcher() func(store.Snapshot) {
	var (
		mu       sync.Mutex
		signedIn bool
		count    = -1
	)
	return func(snap store.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		now := snap.Auth.SignedIn()
		if now != signedIn {
			signedIn = now
			if now {
				fmt.Fprintln(os.Stderr, "* signed in")
			} else {
				fmt.Fprintln(os.Stderr, "* signed out")
			}
		}
		if n := snap.Cart.Count(); n != count && count >= 0 {
			fmt.Fprintf(os.Stderr, "* cart: %d items, %.2f\n", n, snap.CartTotal)
			count = n
		} else if count < 0 {
			count = n
		}
	}
}
