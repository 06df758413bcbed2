package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readSecret prompts on errOut and reads one line from in without echo
// when in is a terminal. Piped input is read as is.
func readSecret(in io.Reader, errOut io.Writer, prompt string) ([]byte, error) {
	fmt.Fprint(errOut, prompt)
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(errOut)
		if err != nil {
			return nil, err
		}
		return bytes.TrimSpace(b), nil
	}

	line, err := readLine(in)
	if err != nil {
		return nil, fmt.Errorf("read PIN: %w", err)
	}
	return bytes.TrimSpace(line), nil
}

// readLine reads up to a newline one byte at a time, so that successive
// prompts on a pipe do not lose buffered input.
func readLine(in io.Reader) ([]byte, error) {
	var line []byte
	b := make([]byte, 1)
	for {
		n, err := in.Read(b)
		if n == 1 {
			if b[0] == '\n' {
				return line, nil
			}
			line = append(line, b[0])
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// promptPIN reads a PIN from the command input.
func promptPIN(cmd *cobra.Command, prompt string) ([]byte, error) {
	pin, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), prompt)
	if err != nil {
		return nil, err
	}
	if len(pin) == 0 {
		return nil, errors.New("empty PIN")
	}
	return pin, nil
}

// promptNewPIN reads a new PIN twice.
func promptNewPIN(cmd *cobra.Command, what string) ([]byte, error) {
	pin, err := promptPIN(cmd, fmt.Sprintf("New %s: ", what))
	if err != nil {
		return nil, err
	}
	again, err := promptPIN(cmd, fmt.Sprintf("Repeat new %s: ", what))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(pin, again) {
		return nil, fmt.Errorf("the two %s entries differ", what)
	}
	return pin, nil
}
