package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wishmaster/internal/httpapi"
)

const shutdownGrace = 5 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var (
		addr        string
		corsOrigins []string
		timeoutSec  int64
		maxBody     int64
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Example: "  wishmaster serve --addr :8080 -m ~/models/qwen2.5-7b-instruct-q4_k_m.gguf\n" +
			"  wishmaster serve --backend scripted --models-dir ./testdata",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			if fs.Changed("addr") {
				a.cfg.Addr = addr
			}
			if fs.Changed("cors-origins") {
				a.cfg.CORSOrigins = corsOrigins
			}
			if fs.Changed("generate-timeout") {
				a.cfg.GenerateTimeoutSeconds = timeoutSec
			}
			if fs.Changed("max-body-bytes") {
				a.cfg.MaxBodyBytes = maxBody
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, nil)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "HTTP listen address")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origins", nil, "Allowed CORS origins; empty disables CORS")
	cmd.Flags().Int64Var(&timeoutSec, "generate-timeout", 0, "Stop /generate streams after N seconds (0 disables)")
	cmd.Flags().Int64Var(&maxBody, "max-body-bytes", 1<<20, "Maximum JSON request body size")
	return cmd
}

// serve runs the API until ctx is cancelled. ready, when non-nil, receives the
// bound address once the listener is up.
func (a *app) serve(ctx context.Context, ready func(addr string)) error {
	eng, err := a.newEngine(a.registerer)
	if err != nil {
		return err
	}
	defer eng.Close()
	if a.cfg.ModelPath != "" {
		if err := a.loadModel(eng, a.cfg.ModelPath); err != nil {
			// Keep serving; POST /model/load can still succeed.
			a.log.Error().Err(err).Str("model", a.cfg.ModelPath).Msg("initial model load failed")
		}
	}

	httpapi.SetMaxBodyBytes(a.cfg.MaxBodyBytes)
	httpapi.SetGenerateTimeoutSeconds(a.cfg.GenerateTimeoutSeconds)
	if len(a.cfg.CORSOrigins) > 0 {
		httpapi.SetCORSOptions(true, a.cfg.CORSOrigins,
			[]string{http.MethodGet, http.MethodPost, http.MethodOptions},
			[]string{"Content-Type", "X-Log-Level"})
	}
	baseCtx, cancelBase := context.WithCancel(ctx)
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           httpapi.NewMux(httpapi.NewService(eng, a.cfg)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	a.log.Info().Str("addr", ln.Addr().String()).Str("backend", eng.BackendName()).
		Strs("models_dirs", a.cfg.ModelsDirs).Msg("wishmaster listening")
	if ready != nil {
		ready(ln.Addr().String())
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	a.log.Info().Msg("shutting down")
	// Ending the base context stops in-flight streams before the server waits on them.
	cancelBase()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown")
	}
	return nil
}
