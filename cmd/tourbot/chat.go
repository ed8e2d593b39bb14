package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rebekaee1/mgp-v2/internal/agent"
	appconfig "github.com/rebekaee1/mgp-v2/internal/config"
	"github.com/rebekaee1/mgp-v2/pkg/config"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

func newChatCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent in the terminal",
		Long:  "chat runs one session against the configured model and inventory. Type /reset to start over, /metrics for session counters, /quit to leave.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLoggerWithService(serviceName)
			config.LoadEnv(logger)
			logger.SetOutput(io.Discard)
			if verbose {
				logger.SetOutput(cmd.ErrOrStderr())
				logger.SetLevel(config.GetLogLevel())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := buildApp(ctx, appconfig.LoadConfig(), logger, false)
			if err != nil {
				return err
			}
			defer a.Close()
			return repl(ctx, a.service, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print logs to stderr")
	return cmd
}

// repl reads one message per line until EOF or /quit.
func repl(ctx context.Context, service *agent.Service, in io.Reader, out io.Writer) error {
	sessionID := "console-" + uuid.NewString()
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	fmt.Fprintln(out, "Здравствуйте! Я помогу вам подобрать тур. Куда хотите поехать?")
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			service.Reset(ctx, sessionID)
			fmt.Fprintln(out, "Диалог сброшен.")
			continue
		case "/metrics":
			metrics, err := service.GetMetrics(sessionID)
			if err != nil {
				fmt.Fprintln(out, "Метрик пока нет.")
				continue
			}
			for name, n := range metrics {
				fmt.Fprintf(out, "  %s: %d\n", name, n)
			}
			continue
		}

		reply, err := service.HandleMessage(ctx, sessionID, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(out, "Ошибка:", err)
			continue
		}
		fmt.Fprintln(out, reply.Text)
		for i, card := range reply.OfferCards {
			fmt.Fprintf(out, "  %d) %s\n", i+1, cardLine(card))
		}
	}
}

func cardLine(c agent.OfferCard) string {
	parts := []string{c.HotelName}
	if c.HotelStars > 0 {
		parts[0] += fmt.Sprintf(" %d*", c.HotelStars)
	}
	if c.Resort != "" {
		parts = append(parts, c.Resort)
	}
	if c.DateFrom != nil {
		parts = append(parts, *c.DateFrom)
	}
	if c.Nights > 0 {
		parts = append(parts, fmt.Sprintf("%d ноч.", c.Nights))
	}
	if c.FoodType != "" {
		parts = append(parts, c.FoodType)
	}
	if c.Price > 0 {
		parts = append(parts, fmt.Sprintf("%d руб.", c.Price))
	}
	return strings.Join(parts, ", ")
}
