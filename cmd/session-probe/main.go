// session-probe is a manual smoke tool for the session client: log in, show
// the confirmed identity, force a refresh, or log out — exercising the same
// code paths the embedding app uses.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jkoskela/storefront-session/config"
	"github.com/jkoskela/storefront-session/internal/api"
	"github.com/jkoskela/storefront-session/internal/credstore"
	"github.com/jkoskela/storefront-session/internal/session"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	login := flag.Bool("login", false, "log in interactively")
	remember := flag.Bool("remember", false, "persist the session across restarts")
	logout := flag.Bool("logout", false, "revoke and clear the session")
	refresh := flag.Bool("refresh", false, "force a token refresh")
	flag.Parse()

	config.LoadEnvFile()
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	sqlite, err := credstore.NewSQLiteBackend(cfg.DBPath, cfg.StoreKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open credential store")
	}
	defer sqlite.Close()

	store := credstore.New(sqlite, credstore.NewMemoryBackend())
	manager := session.NewManager(api.NewAuthService(cfg.APIBaseURL), store, cfg.TokenSkew)
	manager.OnSessionExpired = func(route string) {
		log.Info().Str("route", route).Msg("session expired, app would navigate")
	}
	manager.Bootstrap()

	ctx := context.Background()

	switch {
	case *login:
		if err := runLogin(ctx, manager, *remember); err != nil {
			log.Fatal().Err(err).Msg("login failed")
		}
	case *logout:
		manager.Logout(ctx)
		fmt.Println("logged out")
		return
	case *refresh:
		if pair := manager.Refresh(ctx, false); pair == nil {
			log.Fatal().Msg("refresh failed")
		}
		fmt.Println("tokens refreshed")
	}

	if !manager.EnsureAuthenticated(ctx, false) {
		fmt.Println("not authenticated; run with -login")
		return
	}

	user := manager.User()
	fmt.Printf("logged in as %s (%s), role %s\n", user.DisplayName, user.Email, user.Role)
}

func runLogin(ctx context.Context, manager *session.Manager, remember bool) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("email: ")
	identifier, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read email: %w", err)
	}

	fmt.Print("password: ")
	password, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	result, err := manager.Login(ctx, session.LoginRequest{
		Identifier: strings.TrimSpace(identifier),
		Password:   strings.TrimSpace(password),
		Remember:   remember,
	})
	if err != nil {
		return err
	}

	log.Info().Str("user", result.User.ID).Msg("login succeeded")
	return nil
}
