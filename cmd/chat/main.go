// Command chat is an interactive terminal client for the portfolio answerer.
// It reads one question per line from stdin and answers it locally.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/portfolio-chat/portfolio-chat/engine/rag"
	"github.com/portfolio-chat/portfolio-chat/pkg/bootstrap"
	"github.com/portfolio-chat/portfolio-chat/pkg/config"
)

type answerer interface {
	Query(ctx context.Context, question string) rag.Result
	HealthCheck(ctx context.Context) rag.Health
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	// Keep stdout for answers.
	logger := config.NewLogger(os.Stderr, "text", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer rt.Close()
	ans, err := rt.Answerer()
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}

	if h := ans.HealthCheck(ctx); !h.Healthy() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", h.Message)
	}
	repl(ctx, ans, os.Stdin, os.Stdout, cfg.OwnerName)
}

func repl(ctx context.Context, ans answerer, in io.Reader, out io.Writer, owner string) {
	fmt.Fprintf(out, "Ask me about %s. Type \"quit\" to exit.\n", owner)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return
		}
		q := strings.TrimSpace(sc.Text())
		switch strings.ToLower(q) {
		case "":
			continue
		case "quit", "exit", "q":
			return
		case "health":
			h := ans.HealthCheck(ctx)
			fmt.Fprintf(out, "%s: %s (%d vectors)\n", h.Status, h.Message, h.VectorCount)
			continue
		}

		res := ans.Query(ctx, q)
		fmt.Fprintln(out, res.Response)
		if !res.Success {
			continue
		}
		for i, s := range res.Sources {
			fmt.Fprintf(out, "  [%d] %v/%v: %s\n", i+1, s.Metadata["source"], s.Metadata["type"], oneLine(s.Content, 80))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
