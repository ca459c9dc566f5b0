package main

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	sigctx "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dgrange/huddle/internal/adapters/http"
	"github.com/dgrange/huddle/internal/adapters/mediadev"
	"github.com/dgrange/huddle/internal/adapters/signal"
	"github.com/dgrange/huddle/internal/adapters/store"
	"github.com/dgrange/huddle/internal/adapters/unlock"
	"github.com/dgrange/huddle/internal/app"
	"github.com/dgrange/huddle/internal/config"
)

func main() {
	ctx, cancel := sigctx.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer db.Close()

	oracle := unlock.New(cfg.UnlockAPI, cfg.LockAddress, cfg.ChainID, cfg.OracleTTL)
	reg := app.NewRegistry()

	sessOpts := app.SessionOptions{
		Device:       mediadev.New(),
		ReplaceImage: loadBackground(cfg.StaticPath),
		ConnectDelay: cfg.ConnectDelay,
		RecordingDir: cfg.RecordingDir,
	}
	ctl := signal.NewController(reg, oracle, db, sessOpts)

	r := router.SetupRouter(ctx, cfg, reg, ctl, oracle, db)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

// loadBackground reads the replacement backdrop shipped with the static
// assets; a missing file just means the uniform fallback is used.
func loadBackground(staticPath string) image.Image {
	f, err := os.Open(staticPath + "/background.jpg")
	if err != nil {
		log.Warn().Err(err).Msg("no replacement background image")
		return nil
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		log.Warn().Err(err).Msg("background image decode failed")
		return nil
	}
	return img
}
