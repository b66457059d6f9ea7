package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"figflow/pkg/config"
)

// PasswordEnv supplies the secrets password without a prompt.
const PasswordEnv = "FIGFLOW_PASSWORD"

var errNoTerminal = errors.New("stdin is not a terminal; set " + PasswordEnv)

// passwordSource reads a password after showing prompt.
type passwordSource func(prompt string) (string, error)

func terminalPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // file descriptors fit in int
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

// secretsPassword returns the secrets password from the environment or a prompt.
func (o *rootOptions) secretsPassword(prompt string) (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}
	return o.password(prompt)
}

// newPassword asks twice when the password comes from a prompt.
func (o *rootOptions) newPassword() (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}
	first, err := o.password("New secrets password: ")
	if err != nil {
		return "", err
	}
	second, err := o.password("Confirm password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}
	if first == "" {
		return "", errors.New("password must not be empty")
	}
	return first, nil
}

// unlockSecrets decrypts the secrets file when one exists and returns the
// password used, empty when there is no file.
func (o *rootOptions) unlockSecrets() (string, error) {
	dir := o.secretsDir()
	if !config.SecretsFileExists(dir) {
		return "", nil
	}
	pw, err := o.secretsPassword("Secrets password: ")
	if err != nil {
		return "", err
	}
	if err := config.LoadSecrets(dir, pw); err != nil {
		return "", fmt.Errorf("failed to unlock secrets: %w", err)
	}
	return pw, nil
}
