package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"agentboard/internal/agentstream"
	"agentboard/internal/realtime"
	"agentboard/internal/session"

	"github.com/alecthomas/kong"
	"github.com/google/shlex"
	"go.uber.org/zap"
)

// CLI holds server configuration, parsed from flags with environment
// variable fallbacks.
type CLI struct {
	Port         int    `help:"HTTP listen port." default:"8420" env:"PORT"`
	AgentCommand string `help:"Command line used to spawn each agent session." default:"claude --dangerously-skip-permissions" env:"AGENT_COMMAND"`
	WorkDir      string `help:"Default working directory for spawned agents." default:"." env:"WORK_DIR"`
	EventLogDir  string `help:"Directory of per-session stream-json logs to follow. Empty disables the follower." env:"EVENT_LOG_DIR"`
	StaticDir    string `help:"Directory of static frontend assets." default:"./frontend/dist" env:"STATIC_DIR"`
	MaxSessions  int    `help:"Maximum concurrently live sessions." default:"10" env:"MAX_SESSIONS"`
	Verbose      bool   `help:"Enable debug logging." env:"VERBOSE"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("agentboard"),
		kong.Description("Agent session backend: spawns interactive agent processes, multiplexes their terminals to viewers, and pushes status to the task board."),
		kong.UsageOnError(),
	)

	logger := newLogger(cli.Verbose)
	defer logger.Sync()

	argv, err := shlex.Split(cli.AgentCommand)
	if err != nil || len(argv) == 0 {
		kctx.Fatalf("invalid --agent-command %q: %v", cli.AgentCommand, err)
	}

	var rtServer *realtime.Server
	var follower *agentstream.Follower

	registry := session.NewRegistry(session.Config{
		Command:     argv,
		WorkDir:     cli.WorkDir,
		MaxSessions: cli.MaxSessions,
		Logger:      logger.Named("session"),
		OnCreated: func(sess *session.Session) {
			rtServer.BroadcastSessionUpdate(sess)
			if follower != nil {
				path := filepath.Join(cli.EventLogDir, sess.ID+".jsonl")
				if err := follower.Follow(sess.ID, path); err != nil {
					logger.Warn("event log follow failed", zap.String("session", sess.ID), zap.Error(err))
				}
			}
		},
		OnExited: func(id string, code int) {
			rtServer.BroadcastSessionTerminated(id, code)
			if follower != nil {
				follower.Unfollow(id)
			}
		},
	})

	rtServer = realtime.New(registry, cli.StaticDir, logger.Named("realtime"))

	if cli.EventLogDir != "" {
		follower = agentstream.NewFollower(rtServer.PublishAgentNotification, nil, logger.Named("agentstream"))
	}

	addr := fmt.Sprintf(":%d", cli.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: rtServer.Handler(),
	}

	// Graceful shutdown on signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down")
		if follower != nil {
			follower.Shutdown()
		}
		registry.Shutdown()
		httpServer.Close()
	}()

	logger.Info("agentboard server running", zap.String("addr", addr), zap.String("agentCommand", cli.AgentCommand))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("http server error", zap.Error(err))
	}
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	return logger
}
