package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"librarian/config"
)

const shellPrompt = "librarian> "

func (a *app) shellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run commands interactively against one open store",
		Long: "Run commands interactively. The store is opened once, so a memory store\n" +
			"keeps its contents for the whole session. Global storage flags only apply\n" +
			"when the shell starts.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.inShell {
				return errors.New("already inside a shell")
			}
			if _, err := a.manager(cmd.Context()); err != nil {
				return err
			}
			a.inShell = true
			defer func() { a.inShell = false }()

			return a.repl(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// lineReader is satisfied by liner on a terminal and by a plain scanner
// when input is piped.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

type scannerReader struct {
	sc  *bufio.Scanner
	out io.Writer
}

func (r *scannerReader) Prompt(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.sc.Text(), nil
}

func (r *scannerReader) AppendHistory(string) {}
func (r *scannerReader) Close() error         { return nil }

type linerReader struct {
	*liner.State
	history string
}

func newLinerReader(history string, completions []string) *linerReader {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	state.SetCompleter(func(line string) []string {
		var out []string
		for _, c := range completions {
			if strings.HasPrefix(c, line) {
				out = append(out, c)
			}
		}
		return out
	})
	if history != "" {
		if f, err := os.Open(history); err == nil {
			state.ReadHistory(f)
			f.Close()
		}
	}
	return &linerReader{State: state, history: history}
}

func (r *linerReader) Close() error {
	if r.history != "" {
		if f, err := os.Create(r.history); err == nil {
			r.WriteHistory(f)
			f.Close()
		}
	}
	return r.State.Close()
}

func (a *app) historyFile() string {
	if a.cfg == nil || a.cfg.Store != config.StoreSQLite {
		return ""
	}
	return filepath.Join(filepath.Dir(a.cfg.DBPath), ".librarian_history")
}

func (a *app) repl(ctx context.Context, in io.Reader, out, errOut io.Writer) error {
	var r lineReader
	if isTerminal(in) {
		r = newLinerReader(a.historyFile(), completions(a.rootCommand()))
	} else {
		r = &scannerReader{sc: bufio.NewScanner(in), out: out}
	}
	defer r.Close()

	fmt.Fprintln(out, "Welcome to librarian. Type 'help' for commands, 'exit' to quit.")
	for {
		line, err := r.Prompt(shellPrompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(out, "\nGoodbye!")
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.AppendHistory(line)

		args, err := splitArgs(line)
		if err != nil {
			fmt.Fprintf(errOut, "error: %v\n", err)
			continue
		}
		switch args[0] {
		case "exit", "quit":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case "?":
			args = []string{"help"}
		}

		if err := a.run(ctx, args); err != nil {
			fmt.Fprintf(errOut, "error: %v\n", err)
		}
	}
}

// completions lists "command" and "command subcommand" words for tab
// completion.
func completions(root *cobra.Command) []string {
	words := []string{"exit", "help", "quit"}
	for _, c := range root.Commands() {
		if c.Hidden || c.Name() == "shell" || c.Name() == "completion" {
			continue
		}
		words = append(words, c.Name())
		for _, sub := range c.Commands() {
			words = append(words, c.Name()+" "+sub.Name())
		}
	}
	sort.Strings(words)
	return words
}

// splitArgs splits a shell line on whitespace, honouring single and double
// quotes.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		quote   rune
		started bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			started = true
		case r == ' ' || r == '\t':
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}
