package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"charactercam/server/internal/infra"
	"charactercam/server/internal/poller"
)

// logNotifier prints completion notifications to the terminal.
type logNotifier struct {
	logger infra.Logger
}

func (n *logNotifier) EnsurePermission(ctx context.Context) error {
	return nil
}

func (n *logNotifier) Notify(ctx context.Context, g poller.Generation) {
	n.logger.Info().
		Str("generation_id", g.ID).
		Str("character", g.CharacterName).
		Str("result_url", g.ResultURL).
		Msg("watch: generation completed")
}

func main() {
	_ = godotenv.Load()

	apiURL := flag.String("api", "http://localhost:8080", "generations API base URL")
	token := flag.String("token", os.Getenv("SESSION_TOKEN"), "session token")
	interval := flag.Duration("interval", 10*time.Second, "poll interval")
	flag.Parse()

	logger := infra.NewLogger(os.Getenv("APP_ENV"))
	if *token == "" {
		logger.Fatal().Msg("watch: session token required (flag -token or SESSION_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := poller.New(poller.Options{
		Client:   poller.NewAPIClient(*apiURL, *token, nil),
		Notifier: &logNotifier{logger: logger},
		Interval: *interval,
		Logger:   logger,
	})

	// Enter forces an immediate refresh, the terminal analog of a
	// window-focus event.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			p.Poke()
		}
	}()

	logger.Info().Str("api", *apiURL).Msg("watch: polling generations")
	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("watch: stopped with error")
	}
}
