package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNotTerminal is returned when a prompt needs an interactive terminal.
var ErrNotTerminal = errors.New("stdin is not a terminal; pass --yes to skip confirmation")

// ReadSecret prompts on out and reads a line from the terminal without echo.
func ReadSecret(out io.Writer, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal; pass the secret with a flag")
	}
	fmt.Fprint(out, prompt)
	bytes, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(bytes), nil
}

// Confirm asks a yes/no question on the terminal.
func Confirm(out io.Writer, question string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, ErrNotTerminal
	}
	return ConfirmFrom(os.Stdin, out, question)
}

// ConfirmFrom reads the answer to question from in. Only "y" and "yes" accept.
func ConfirmFrom(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// ParseEnv turns repeated KEY=VALUE flags into a map.
func ParseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, UsageError{Msg: fmt.Sprintf("invalid --env %q, expected KEY=VALUE", pair)}
		}
		env[key] = value
	}
	return env, nil
}

// PrintJSON writes v as indented JSON.
func PrintJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
