package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"eino_counsel/internal/core"
	"eino_counsel/pkg"
	"eino_counsel/src/logger"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// TurnProcessor handles one user message
type TurnProcessor interface {
	ProcessMessage(ctx context.Context, req pkg.TurnRequest) core.TurnResult
}

type chatOptions struct {
	userID    string
	sessionID string
	message   string
	verbose   bool
}

func newChatCmd() *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant in single message or REPL mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.userID, "user", "u", "local-user", "User id whose memory is used")
	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "Session id (random when empty)")
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "Single message to send")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print tier, model and latency after each reply")
	return cmd
}

func runChat(ctx context.Context, opts *chatOptions, in io.Reader, out io.Writer) error {
	cfg, err := loadRuntimeConfig()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, app)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if opts.sessionID == "" {
		opts.sessionID = uuid.NewString()
	}
	return chatLoop(ctx, app.Orchestrator, opts, in, out)
}

func serveMetrics(addr string, app *App) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log := logger.Component("metrics")
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics listener stopped")
		}
	}()
	return srv
}

// chatLoop sends one message or runs a REPL until EOF or "exit"
func chatLoop(ctx context.Context, proc TurnProcessor, opts *chatOptions, in io.Reader, out io.Writer) error {
	send := func(text string) {
		res := proc.ProcessMessage(ctx, pkg.TurnRequest{
			UserID:    opts.userID,
			SessionID: opts.sessionID,
			Message:   text,
		})
		fmt.Fprintln(out, res.Response)
		if opts.verbose {
			fmt.Fprintf(out, "  [%s | %s | %s | %s]\n", res.Tier, res.Model, res.Outcome, res.ProcessingTime.Round(time.Millisecond))
		}
	}

	if opts.message != "" {
		send(opts.message)
		return nil
	}

	fmt.Fprintln(out, "counsel chat (type 'exit' to quit)")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		if ctx.Err() != nil {
			break
		}
		send(input)
	}
	return scanner.Err()
}
