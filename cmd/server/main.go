package main

import (
	"log"
	"os"

	"resoluta-leech/internal/config"
	"resoluta-leech/internal/downloader"
	"resoluta-leech/internal/history"
	"resoluta-leech/internal/server"
	"resoluta-leech/internal/task"
)

func main() {
	// Optional: Load config from file if exists
	if err := config.LoadConfig("config.json"); err != nil {
		log.Println("Note: config.json not found or invalid, using defaults")
	}

	if err := os.MkdirAll(config.GlobalConfig.DownloadDir, 0755); err != nil {
		log.Fatalf("Failed to create download directory: %v", err)
	}

	hist, err := history.Open(config.GlobalConfig.DataDir)
	if err != nil {
		log.Fatalf("Failed to open history store: %v", err)
	}
	defer hist.Close()

	// MEGA first so share links are not mistaken for plain HTTP; the
	// direct backend is the fallback for everything else.
	mega := downloader.NewMega(config.GlobalConfig.MegadlPath)
	if !mega.Available() {
		log.Println("Note: megadl not found, MEGA.nz downloads disabled")
	}
	backends := []downloader.Backend{
		mega,
		downloader.NewDirect(config.GlobalConfig.Headers),
	}

	manager := task.NewManager(config.GlobalConfig.DownloadDir, backends, hist)

	srv := server.New(manager, hist)
	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}
}
