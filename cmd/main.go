package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seevideo/automation/internal/api/handlers"
	"seevideo/automation/internal/api/routes"
	"seevideo/automation/internal/automation/jimeng"
	"seevideo/automation/internal/automation/studio"
	"seevideo/automation/internal/config"
	"seevideo/automation/internal/progress"
	"seevideo/automation/internal/services"
	"seevideo/automation/pkg/chrome"
	"seevideo/automation/pkg/database"
	"seevideo/automation/pkg/downloader"
	"seevideo/automation/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the automation relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile)
		},
	}
	login := &cobra.Command{
		Use:   "login",
		Short: "Open the browser profile to sign in to Jimeng and AI Studio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(configFile)
		},
	}

	root := &cobra.Command{
		Use:          "automation",
		Short:        "Browser automation relay for see-video",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("CONFIG_FILE"), "config file (yaml or json)")
	root.AddCommand(serve, login)
	return root
}

func loadConfig(file string) (*config.Config, error) {
	cfg, err := config.LoadConfig(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Init(logger.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	return cfg, nil
}

func newBrowser(cfg *config.Config, headless bool) *chrome.Manager {
	return chrome.NewManager(chrome.Options{
		ChromePath:     cfg.Chrome.Path,
		RemoteURL:      cfg.Chrome.RemoteURL,
		UserDataDir:    cfg.Chrome.UserDataDir,
		Headless:       headless,
		Viewport:       cfg.Chrome.Viewport,
		DebugPort:      cfg.Chrome.DebugPort,
		StartupTimeout: cfg.Chrome.StartupTimeout,
	})
}

func runServe(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	log := logger.Component("Server")

	// Initialize database
	if err := database.InitDatabase(cfg); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	browser := newBrowser(cfg, cfg.Chrome.HeadlessMode)
	defer browser.Close()

	hub := progress.NewHub()
	fetcher := downloader.New(cfg.Assets.DownloadTimeout, cfg.Assets.MaxRedirects)
	videoDriver := jimeng.NewDriver(browser, cfg.Jimeng, fetcher, hub)
	studioDriver := studio.NewDriver(browser, cfg.Studio, hub)
	store := services.NewGenerationStore(database.DB)
	processor := services.NewAssetProcessor(store, fetcher, cfg.Assets, hub)

	// Initialize background jobs
	syncer := services.NewSyncer(services.SyncerConfig{
		AssetSync:   cfg.Cron.AssetSync,
		BrowserReap: cfg.Cron.BrowserReap,
		IdleTimeout: cfg.Chrome.IdleTimeout,
		ListCount:   cfg.Jimeng.AssetListCount,
	}, videoDriver, processor, browser)
	if err := syncer.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	background, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	handler := handlers.NewHandler(background, handlers.Dependencies{
		Generator:      videoDriver,
		Builder:        studioDriver,
		Store:          store,
		Processor:      processor,
		Browser:        browser,
		Hub:            hub,
		AssetListCount: cfg.Jimeng.AssetListCount,
	})

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)
	router := routes.SetupRoutes(cfg, handler)

	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Automation server running at http://%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutting down server...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}

	// Stop scheduler
	<-syncer.Stop().Done()
	cancelBackground()
	handler.Wait()

	log.Info("Server shutdown complete")
	return nil
}

// runLogin opens the persistent profile headed so an operator can sign in.
// The sessions stay in the profile for later headless runs.
func runLogin(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	log := logger.Component("Login")

	browser := newBrowser(cfg, false)
	defer browser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := browser.Launch(ctx); err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	log.WithField("profile", cfg.Chrome.UserDataDir).Info("Browser launched")

	for _, url := range []string{cfg.Jimeng.URL, cfg.Studio.URL} {
		page, err := browser.NewPage(ctx)
		if err != nil {
			return fmt.Errorf("open browser page: %w", err)
		}
		if err := chrome.Navigate(page.Context(), url, cfg.Jimeng.NavigateTimeout); err != nil {
			log.WithError(err).WithField("url", url).Warn("Page did not finish loading")
		}
	}

	log.Info("Sign in to Jimeng and AI Studio in the opened browser, then press Ctrl+C")
	<-ctx.Done()
	log.Info("Closing browser, login state is kept in the profile")
	return nil
}
