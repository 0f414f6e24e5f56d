package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"ticketsmith/pkg/config"
)

// EnvPassword holds the secrets-file password for unattended startup.
const EnvPassword = "TICKETSMITH_PASSWORD"

// prompter reads a value from the operator without echoing it.
type prompter interface {
	ReadSecret(label string) (string, error)
}

type terminalPrompter struct{}

func (terminalPrompter) ReadSecret(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	value, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // syscall.Stdin is not int on every platform
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(value), nil
}

// resolvePassword returns the secrets password from the environment unless prompt is set
// or the variable is empty. confirm asks twice, for creating a new file.
func resolvePassword(prompt, confirm bool, p prompter) (string, error) {
	if !prompt {
		if password := os.Getenv(EnvPassword); password != "" {
			return password, nil
		}
	}

	password, err := p.ReadSecret("Secrets password: ")
	if err != nil {
		return "", err
	}
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	if confirm {
		again, err := p.ReadSecret("Confirm password: ")
		if err != nil {
			return "", err
		}
		if again != password {
			return "", errors.New("passwords do not match")
		}
	}
	return password, nil
}

// unlockSecrets decrypts the secrets file in dir into memory. No file means secrets
// come from the environment only.
func unlockSecrets(dir string, prompt bool, p prompter) error {
	if !config.SecretsFileExists(dir) {
		return nil
	}
	password, err := resolvePassword(prompt, false, p)
	if err != nil {
		return err
	}
	secrets, err := config.DecryptSecretsFile(dir, password)
	if err != nil {
		return fmt.Errorf("failed to unlock secrets: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

// runSecretsCommand handles `secrets set NAME` and `secrets list`.
func runSecretsCommand(args []string, dir string, prompt bool, p prompter) error {
	const usage = "usage: ticketsmith secrets set NAME | ticketsmith secrets list"
	if len(args) < 2 || args[0] != "secrets" {
		return errors.New(usage)
	}

	switch args[1] {
	case "list":
		if err := unlockSecrets(dir, prompt, p); err != nil {
			return err
		}
		for _, name := range config.GetDecryptedSecretNames() {
			fmt.Println(name)
		}
		return nil

	case "set":
		if len(args) != 3 || strings.TrimSpace(args[2]) == "" {
			return errors.New(usage)
		}
		name := strings.TrimSpace(args[2])

		exists := config.SecretsFileExists(dir)
		password, err := resolvePassword(prompt, !exists, p)
		if err != nil {
			return err
		}
		if exists {
			secrets, err := config.DecryptSecretsFile(dir, password)
			if err != nil {
				return fmt.Errorf("failed to unlock secrets: %w", err)
			}
			config.SetDecryptedSecrets(secrets)
		}

		value, err := p.ReadSecret(fmt.Sprintf("Value for %s: ", name))
		if err != nil {
			return err
		}
		if value == "" {
			return fmt.Errorf("value for %s cannot be empty", name)
		}
		config.SetSecret(name, value)
		if err := config.SaveSecretsToFile(dir, password); err != nil {
			return fmt.Errorf("failed to save secrets: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✅ Stored %s in %s\n", name, config.SecretsFileName)
		return nil

	default:
		return errors.New(usage)
	}
}
