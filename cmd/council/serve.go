package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-council/infrastructure/httpapi"
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default :$PORT or :8001)")
	serveCmd.Flags().Bool("debug", false, "run gin in debug mode")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the council HTTP API with SSE streaming",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}

	// Environment model overrides seed a fresh settings file; once settings
	// exist they are edited through the API.
	if patch, ok := rt.env.settingsPatch(); ok {
		if _, statErr := os.Stat(rt.store.Path()); errors.Is(statErr, os.ErrNotExist) {
			if _, err := rt.store.Update(patch); err != nil {
				return err
			}
		}
	}
	settings, err := rt.store.Current()
	if err != nil {
		return err
	}
	if err := rt.ensureGateway(settings); err != nil {
		return err
	}

	if debug, _ := cmd.Flags().GetBool("debug"); !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.Config{
		Store:          rt.store,
		Gateway:        rt.gateway,
		Logger:         rt.logger,
		CouncilOptions: rt.councilOptions(),
		AllowedOrigins: rt.env.CORSOrigins,
		MetricsHandler: promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}),
	})

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = net.JoinHostPort("", rt.env.Port)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("starting LLM Council API",
			"addr", addr,
			"settings", rt.store.Path(),
			"router", rt.env.Router,
			"council", settings.CouncilModels,
			"chairman", settings.ChairmanModel,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	rt.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
