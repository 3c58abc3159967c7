package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/vboxrdp/vrdpaudio/internal/adminhttp"
	"github.com/vboxrdp/vrdpaudio/internal/audio"
	"github.com/vboxrdp/vrdpaudio/internal/config"
	"github.com/vboxrdp/vrdpaudio/internal/metrics"
)

// acmeCacheDir is where the autocert manager persists issued certificates.
// This binary keeps no other state directory, unlike the host application
// this subsystem was extracted from.
const acmeCacheDir = "acme-cache"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting vrdpaudiod",
		"admin_addr", cfg.AdminAddr,
		"rate_correction_mode", cfg.RateCorrectionMode,
		"tls", cfg.TLSEnabled(),
	)

	var opts []audio.ServerOption
	if cfg.AudioLogPath != "" {
		opts = append(opts, audio.WithWAVDump(cfg.AudioLogPath, cfg.AudioLogMaxDays))
	}
	audioSrv := audio.NewServer(cfg.RateCorrectionMode, logger, opts...)
	audioSrv.Start()

	reg := metrics.NewRegistry(audioSrv.Engine, &clientStatsAdapter{srv: audioSrv}, time.Now(), logger)
	handler := adminhttp.NewServer(audioSrv, reg, logger)

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var redirectSrv *http.Server
	errCh := make(chan error, 1)

	switch {
	case cfg.ACMEDomain != "":
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.ACMEDomain),
			Cache:      autocert.DirCache(acmeCacheDir),
			Email:      cfg.ACMEEmail,
		}
		srv.Addr = ":443"
		srv.TLSConfig = m.TLSConfig()

		redirectSrv = &http.Server{
			Addr:         ":80",
			Handler:      m.HTTPHandler(nil),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  30 * time.Second,
		}

		go func() {
			slog.Info("admin https server listening (acme)", "addr", srv.Addr, "domain", cfg.ACMEDomain)
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
		go func() {
			slog.Info("acme http-01 challenge server listening", "addr", redirectSrv.Addr)
			if err := redirectSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("acme challenge server error", "error", err)
			}
		}()

	case cfg.TLSCert != "":
		srv.Addr = cfg.AdminAddr
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}

		go func() {
			slog.Info("admin https server listening", "addr", srv.Addr)
			if err := srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

	default:
		srv.Addr = cfg.AdminAddr
		go func() {
			slog.Info("admin http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("admin http server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	audioSrv.Stop()

	if redirectSrv != nil {
		if err := redirectSrv.Shutdown(ctx); err != nil {
			slog.Error("acme challenge server shutdown error", "error", err)
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("admin http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("vrdpaudiod stopped")
}

// clientStatsAdapter adapts audio.Server's client snapshot into the
// metrics package's provider interface, keeping internal/metrics free of
// any dependency on internal/audio.
type clientStatsAdapter struct {
	srv *audio.Server
}

func (a *clientStatsAdapter) GetClientStats() []metrics.ClientStatsEntry {
	snaps := a.srv.ClientSnapshots()
	out := make([]metrics.ClientStatsEntry, len(snaps))
	for i, s := range snaps {
		out[i] = metrics.ClientStatsEntry(s)
	}
	return out
}
