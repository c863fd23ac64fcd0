package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/setkeep/internal/config"
	"github.com/roach88/setkeep/internal/engine"
	"github.com/roach88/setkeep/internal/events"
	"github.com/roach88/setkeep/internal/logging"
)

// session is an open engine plus the process plumbing a command needs.
type session struct {
	ctx    context.Context
	eng    *engine.Engine
	out    *OutputFormatter
	logger *slog.Logger

	cancel    context.CancelFunc
	logCloser io.Closer
	sigChan   chan os.Signal
}

// loadConfig reads the configured file, mapping failures onto exit codes.
func loadConfig(opts *RootOptions, out *OutputFormatter) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, out.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	return cfg, nil
}

// openSession loads configuration, builds the logger and opens the engine.
// The returned session must be closed.
func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	out := NewFormatter(cmd, opts)
	cfg, err := loadConfig(opts, out)
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(cfg.Log, opts.Verbose, cmd.ErrOrStderr())
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "invalid log configuration", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	s := &session{
		ctx:       ctx,
		out:       out,
		logger:    logger,
		cancel:    cancel,
		logCloser: closer,
		sigChan:   make(chan os.Signal, 1),
	}
	signal.Notify(s.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-s.sigChan:
			logger.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Debug("opening store", "path", cfg.DatabasePath())
	eng, err := engine.Open(ctx, cfg,
		engine.WithLogger(logger),
		engine.WithSink(events.Func(func(e events.Event) {
			logger.Info("event", "kind", e.Kind, "message", e.Message)
		})),
	)
	if err != nil {
		s.close()
		return nil, out.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	s.eng = eng
	return s, nil
}

func (s *session) close() {
	if s.eng != nil {
		if err := s.eng.Close(); err != nil {
			s.logger.Error("error closing store", "error", err)
		}
	}
	signal.Stop(s.sigChan)
	s.cancel()
	_ = s.logCloser.Close()
}
