package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// stdinFd is a test seam for the terminal file descriptor.
var stdinFd = func() int { return int(os.Stdin.Fd()) }

var errEmptyInput = errors.New("empty input")

// GetPassword prints prompt to w and reads a line from the terminal without
// echo. The caller should wipe the returned slice when done with it.
func GetPassword(w io.Writer, prompt string) ([]byte, error) {
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return nil, err
	}
	pw, err := readPassword(stdinFd())
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	pw = bytes.TrimSpace(pw)
	if len(pw) == 0 {
		return nil, errEmptyInput
	}
	return pw, nil
}

// PromptPassphrase asks for the passphrase that opens a sealed password.
func PromptPassphrase() ([]byte, error) {
	return GetPassword(os.Stderr, "Config passphrase: ")
}
