package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	log "github.com/sirupsen/logrus"

	"github.com/ayusman/objcrop/internal/config"
	"github.com/ayusman/objcrop/internal/cropper"
	"github.com/ayusman/objcrop/internal/detector"
	"github.com/ayusman/objcrop/internal/server"
	"github.com/ayusman/objcrop/internal/store"
	"github.com/ayusman/objcrop/internal/tray"
)

func main() {
	parser := argparse.NewParser("cropd", "Object Crop API server")
	withTray := parser.Flag("", "tray", &argparse.Options{Help: "Show a system tray menu while serving", Default: false})
	port := parser.Int("p", "port", &argparse.Options{Help: "Port to listen on (overrides PORT)", Default: 0})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	cfg := config.Load()
	config.SetupLogging(cfg.LogLevel)
	if *port > 0 {
		cfg.Port = *port
	}

	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("Failed to create data directories: %v", err)
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	registry := detector.NewDefaultRegistry(detector.RegistryConfig{
		YOLOModel: cfg.YOLOModel,
		Script:    cfg.DetectionScript,
		Python:    cfg.Python,
	})
	defer func() {
		if err := registry.Close(); err != nil {
			log.Warnf("Closing detectors: %v", err)
		}
	}()
	for _, m := range detector.Methods {
		if m.IsAI() {
			log.WithField("available", registry.Available(m)).Infof("%s detector", m)
		}
	}

	var t *tray.Tray
	if *withTray {
		t = tray.New(cfg.Addr())
	}

	svcOpts := cropper.Options{
		UploadDir: cfg.UploadDir,
		OutputDir: cfg.OutputDir,
		Registry:  registry,
		Store:     st,
	}
	if t != nil {
		svcOpts.OnJob = func(*store.Job) { t.JobDone() }
	}

	staticDir := cfg.StaticDir
	if staticDir == "" {
		staticDir = findWebDir()
	}
	if staticDir != "" {
		log.Infof("Serving static files from: %s", staticDir)
	}

	srv := server.New(server.Config{
		StaticDir:   staticDir,
		UploadDir:   cfg.UploadDir,
		OutputDir:   cfg.OutputDir,
		Service:     cropper.NewService(svcOpts),
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   cfg.RateLimit,
		RateWindow:  cfg.RateWindow,
		MaxUploadMB: cfg.MaxUploadMB,
	})
	httpServer := srv.HTTPServer(cfg.Addr())

	go func() {
		log.Infof("Starting server on %s", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	if t != nil {
		url := fmt.Sprintf("http://localhost:%d/", cfg.Port)
		t.OnOpenUI(func() { openPath(url) })
		t.OnOpenOutputs(func() { openPath(cfg.OutputDir) })
		t.OnQuit(func() { stop <- syscall.SIGTERM })
		go func() {
			<-stop
			shutdown(httpServer)
			os.Exit(0)
		}()
		// systray needs the main goroutine
		t.Run()
		return
	}

	<-stop
	shutdown(httpServer)
}

func shutdown(s *http.Server) {
	log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Errorf("Shutdown: %v", err)
	}
}

// openPath opens a URL or directory with the desktop's default handler.
func openPath(target string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}
	if err := cmd.Start(); err != nil {
		log.Warnf("Failed to open %s: %v", target, err)
	}
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.objcrop/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".objcrop", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
