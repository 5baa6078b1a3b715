package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/livecaption/internal/api"
	"github.com/satriahrh/livecaption/internal/auth"
	"github.com/satriahrh/livecaption/internal/websocket"
	"github.com/satriahrh/livecaption/usecase"
)

func runServe() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	captions := usecase.NewCaptionService(a.sessions, logger, hub)
	recorder, err := a.recordingService(captions, hub, hub)
	if err != nil {
		return err
	}

	assist := usecase.NewAssistService(a.sessions, captions, a.assistant(), a.cfg.STTLanguage, logger, hub)

	cleanup := usecase.NewSessionCleanupService(a.sessions, recorder, a.cfg.Retention(), logger)
	cleanup.Start()
	defer cleanup.Stop()

	var issuer *auth.Issuer
	if a.cfg.JWTSecret != "" {
		issuer, err = auth.NewIssuer(a.cfg.JWTSecret, auth.DefaultTokenTTL)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("jwt_secret is not set, caption viewers connect without a token")
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, api.Dependencies{
		Hub:       hub,
		Recorder:  recorder,
		Sessions:  a.sessions,
		Devices:   a.deviceLister(),
		Assistant: assist,
		Issuer:    issuer,
		Passcode:  a.cfg.ViewerPasscode,
	}, logger)

	// Graceful shutdown
	serverErr := make(chan error, 1)
	go func() {
		if err := e.Start(":" + a.cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("Server started",
		zap.String("port", a.cfg.Port),
		zap.String("sttProvider", a.cfg.STTProvider),
		zap.String("storage", a.cfg.Storage))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error("Server failed", zap.Error(err))
		return err
	}

	logger.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if recorder.Status().State != usecase.RecordingIdle {
		if session, err := recorder.Stop(shutdownCtx); err != nil {
			logger.Error("Failed to finish recording on shutdown", zap.Error(err))
		} else {
			logger.Info("Recording finished on shutdown", zap.String("sessionID", session.ID))
		}
	}

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	cancel()

	logger.Info("Server exited")
	return nil
}
