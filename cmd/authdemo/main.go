package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	retry "github.com/appleboy/go-httpretry"
	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/attendly/go-auth-client/botlogin"
	"github.com/attendly/go-auth-client/internal/config"
	"github.com/attendly/go-auth-client/internal/utils"
	"github.com/attendly/go-auth-client/realtime"
	"github.com/attendly/go-auth-client/session"
	"github.com/attendly/go-auth-client/transport"
)

// authdemo runs the bot login end to end against a configured server, then
// demonstrates an authenticated call through the refresh coordinator.
func main() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("authdemo failed")
	}
}

func run(logger zerolog.Logger) error {
	c := config.New()
	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient, err := retry.NewBackgroundClient()
	if err != nil {
		return fmt.Errorf("create retry client: %w", err)
	}

	store, err := session.NewFileStore(c.GetSessionFile())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	refresher, err := transport.NewHTTPRefresher(httpClient, c.GetAPIBaseURL())
	if err != nil {
		return err
	}
	coordinator, err := transport.NewCoordinator(httpClient, store, refresher, transport.WithLogger(logger))
	if err != nil {
		return err
	}

	if sess := store.Get(); sess.Authenticated {
		logger.Info().Str("username", utils.Value(sess.User).Username).Msg("existing session found, skipping login")
		return whoami(ctx, coordinator, c.GetAPIBaseURL())
	}

	issuer, err := botlogin.NewHTTPIssuer(httpClient, c.GetAPIBaseURL())
	if err != nil {
		return err
	}
	dialer, err := realtime.NewWebsocketDialer(c.GetRealtimeURL(), realtime.WithDialerLogger(logger))
	if err != nil {
		return err
	}

	machine, err := botlogin.NewMachine(issuer, dialer, store,
		botlogin.WithWaitTimeout(c.GetLoginWaitTimeout()),
		botlogin.WithLogger(logger),
		botlogin.WithFallback(func(err error) {
			logger.Warn().Err(err).Msg("bot login unavailable, use password login instead")
		}),
	)
	if err != nil {
		return err
	}
	defer machine.Close()

	updates := machine.Updates()
	if err := machine.Start(ctx); err != nil {
		return fmt.Errorf("start bot login: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				machine.Cancel()
				return gctx.Err()
			case status, ok := <-updates:
				if !ok {
					return nil
				}
				switch status.State {
				case botlogin.StateWaiting:
					if status.Token != nil {
						fmt.Printf("\nConfirm this login in the messaging app:\n\n  %s\n\n", status.Token.Deeplink)
					}
				case botlogin.StateSuccess:
					return nil
				case botlogin.StateError:
					return status.Err
				}
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}

	sess := store.Get()
	logger.Info().Str("username", utils.Value(sess.User).Username).Msg("logged in")
	return whoami(ctx, coordinator, c.GetAPIBaseURL())
}

// whoami exercises the coordinator: an expired access token is refreshed
// transparently before this call completes.
func whoami(ctx context.Context, coordinator *transport.Coordinator, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/users/me", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := coordinator.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("authenticated call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authenticated call returned status %d: %s", resp.StatusCode, string(body))
	}

	fmt.Printf("%s\n", string(body))
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
