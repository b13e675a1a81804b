// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (C) 2026 Diputacion de Granada
// Autor: Alberto Avidad Fernandez (Oficina de Software Libre de la Diputacion de Granada)

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"digital-signer/pkg/api"
	"digital-signer/pkg/config"
	"digital-signer/pkg/metrics"
	"digital-signer/pkg/preview"
	"digital-signer/pkg/transport"
	"digital-signer/pkg/usbprobe"
	"digital-signer/pkg/version"
)

func newServeCmd(a *app) *cobra.Command {
	var noMetrics bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local signing service (sessions API, previews, metrics)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !noMetrics {
				metrics.Enable()
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "disable Prometheus instrumentation")
	return cmd
}

func serve(parent context.Context, a *app) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.CheckListen(a.config().Server.Listen); err != nil {
		return fmt.Errorf("--listen: %w", err)
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	cfg := a.config()
	bus := transport.NewBus()
	renderer := preview.NewRenderer(a.renditions(), bus, preview.Options{
		Scale:    cfg.Preview.Scale,
		BaseURL:  "http://" + cfg.Server.Listen + "/preview",
		PDFJSURL: cfg.Preview.PDFJSURL,
	})

	server := api.NewServer(api.Config{
		Backend:        a.backend(st),
		Store:          st,
		Previews:       renderer,
		PreviewHandler: renderer.Handler(),
		Bus:            bus,
		Mode:           a.signingMode,
		Prober: func() api.Prober {
			return usbprobe.New(usbprobe.ResolveModule(a.config().Signing.PKCS11Library))
		},
		USBRetry:    cfg.USBRetryInterval(),
		IdleTimeout: cfg.SessionIdleTimeout(),
	})
	defer server.Close()

	a.loader.OnChange(func(c *config.Config) {
		log.Printf("[Config] Recargada: mode=%s", c.SigningMode())
	})
	if err := a.loader.Watch(); err != nil {
		log.Printf("[Config] Recarga en caliente no disponible: %v", err)
	}
	defer a.loader.Close()

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[API] %s escuchando en http://%s (mode=%s)", version.String(), cfg.Server.Listen, a.signingMode())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("servidor HTTP: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("[API] Apagando servidor")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
