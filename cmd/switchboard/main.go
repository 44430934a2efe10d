package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/germanamz/switchboard/pkg/chats/content"
	"github.com/germanamz/switchboard/pkg/chats/message"
	"github.com/germanamz/switchboard/pkg/chats/role"
	"github.com/germanamz/switchboard/pkg/engine"
	"github.com/joho/godotenv"
)

// options holds the parsed command line.
type options struct {
	configPath string
	modelRef   string
	system     string
	prompt     string
	transcript string
	logLevel   string
	listModels bool
	verbose    bool
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: switchboard [flags]\n\nStreams a conversation with any configured model. Without -prompt, each\nline read from stdin is sent as a new turn.\n\nFlags:\n")
		flag.PrintDefaults()
	}

	var opts options
	flag.StringVar(&opts.configPath, "config", "switchboard.yaml", "path to configuration file")
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	flag.StringVar(&opts.modelRef, "model", "", "model reference as provider/id (default: default_model from config)")
	flag.StringVar(&opts.system, "system", "", "system prompt")
	flag.StringVar(&opts.prompt, "prompt", "", "send a single prompt and exit")
	flag.StringVar(&opts.transcript, "transcript", "", "YAML conversation to load before the first turn")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	flag.BoolVar(&opts.listModels, "list-models", false, "list configured models and exit")
	flag.BoolVar(&opts.verbose, "verbose", false, "show reasoning text")
	flag.Parse()

	if err := loadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadDotEnv loads environment variables from path. A missing file is not
// an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// run loads the engine, prepares a session and drives the conversation.
func run(ctx context.Context, opts options, stdin io.Reader, stdout, stderr io.Writer) error {
	logger, err := newLogger(stderr, opts.logLevel)
	if err != nil {
		return err
	}

	cfg, err := engine.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	if opts.listModels {
		renderModels(stdout, eng.Models())
		return nil
	}

	m, err := eng.DefaultModel()
	if opts.modelRef != "" {
		m, err = eng.Model(opts.modelRef)
	}
	if err != nil {
		return err
	}

	sess := eng.NewSession(m)
	if opts.system != "" {
		sess.Chat().Append(message.NewText("system", role.System, opts.system))
	}
	if opts.transcript != "" {
		msgs, err := loadTranscript(opts.transcript)
		if err != nil {
			return err
		}
		sess.Chat().Append(msgs...)
	}

	r := newRenderer(stdout, opts.verbose)

	if opts.prompt != "" {
		_, err := sess.SendParts(ctx, r.handle, content.Text{Text: opts.prompt})
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	return loop(ctx, sess, r, stdin)
}

// loop sends every non-empty stdin line as one turn until EOF or
// cancellation. Failed turns are rendered and the conversation continues.
func loop(ctx context.Context, sess *engine.Session, r *renderer, stdin io.Reader) error {
	sc := bufio.NewScanner(stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		reply, err := sess.SendParts(ctx, r.handle, content.Text{Text: line})
		if ctx.Err() != nil {
			return nil
		}
		// Stream failures were already rendered; a turn that never
		// reached the backend has no reply.
		if err != nil && reply.Role == "" {
			r.line(errorBlockStyle.Render("error: " + err.Error()))
		}
	}

	return sc.Err()
}
