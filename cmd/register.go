package cmd

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/officebrain/officebrain/internal/auth"
	"github.com/officebrain/officebrain/internal/config"
)

// executeRegister creates a new user account. Registration works offline;
// it does not require the API key.
func executeRegister(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	user := fs.String("user", "", "username to register")
	if err := fs.Parse(args); err != nil {
		return err
	}

	users, err := auth.NewStore(cfg.UsersPath(), logger)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	username := *user
	if username == "" {
		fmt.Print("Username: ")
		if !scanner.Scan() {
			return errors.New("no username entered")
		}
		username = scanner.Text()
	}

	fmt.Print("Password: ")
	if !scanner.Scan() {
		return errors.New("no password entered")
	}
	password := scanner.Text()

	fmt.Print("Confirm password: ")
	if !scanner.Scan() {
		return errors.New("no confirmation entered")
	}
	if scanner.Text() != password {
		return errors.New("passwords do not match")
	}

	if err := users.Register(ctx, username, password); err != nil {
		return err
	}
	fmt.Printf("Registered %s. Start chatting with: officebrain chat -user %s\n", username, username)
	return nil
}
