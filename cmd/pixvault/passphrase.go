package main

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"syscall"

	"golang.org/x/term"
)

// PasswordEnvVar supplies the password without prompting.
const PasswordEnvVar = "PIXVAULT_PASSWORD"

// zeroBytes overwrites a byte slice with zeros
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// stdinIsTerminal reports whether a password prompt can be answered.
func stdinIsTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

func getPassword(prompt string) (string, error) {
	if env := os.Getenv(PasswordEnvVar); env != "" {
		return env, nil
	}
	pw, err := readPassword(prompt)
	if err != nil {
		return "", err
	}
	defer zeroBytes(pw)
	return string(pw), nil
}

func getPasswordWithConfirm(prompt, confirmPrompt string) (string, error) {
	if env := os.Getenv(PasswordEnvVar); env != "" {
		return env, nil
	}

	pw, err := readPassword(prompt)
	if err != nil {
		return "", err
	}
	defer zeroBytes(pw)

	confirm, err := readPassword(confirmPrompt)
	if err != nil {
		return "", err
	}
	defer zeroBytes(confirm)

	if !bytes.Equal(pw, confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	if len(pw) == 0 {
		return "", fmt.Errorf("password must not be empty")
	}
	return string(pw), nil
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)

	if stdinIsTerminal() {
		pw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		return pw, err
	}

	// stdin is piped; fall back to the controlling terminal.
	tty, err := os.Open("/dev/tty")
	if err != nil {
		return nil, fmt.Errorf("cannot read password: stdin is not a terminal and /dev/tty is not available. Set %s", PasswordEnvVar)
	}
	defer tty.Close()

	pw, err := term.ReadPassword(int(tty.Fd()))
	fmt.Fprintln(os.Stderr)
	return pw, err
}
