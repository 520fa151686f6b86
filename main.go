package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/zots0127/filevault/pkg/config"
	"github.com/zots0127/filevault/pkg/crypto"
	"github.com/zots0127/filevault/pkg/registry"
	"github.com/zots0127/filevault/pkg/scanner"
	"github.com/zots0127/filevault/pkg/storage"
	"github.com/zots0127/filevault/pkg/vault"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	reg, err := registry.Open(cfg.Storage.Database)
	if err != nil {
		log.Fatal("Failed to open registry: ", err)
	}
	defer reg.Close()

	store, err := storage.New(cfg)
	if err != nil {
		log.Fatal("Failed to initialize storage: ", err)
	}

	crypt, err := crypto.New(cfg.Encryption.Salt)
	if err != nil {
		log.Fatal("Failed to initialize crypto: ", err)
	}
	if !crypt.EncryptionEnabled() {
		log.Println("No encryption salt configured; at-rest encryption disabled")
	}

	var gate scanner.Scanner = scanner.Disabled{}
	if cfg.ClamAV.Path != "" {
		gate = scanner.NewClamAV(cfg.ClamAV.Path)
		log.Printf("Antivirus gate enabled via %s", cfg.ClamAV.Path)
	}

	engine := vault.New(store, reg, crypt, gate, vault.Options{
		MaxFileSize:  cfg.Vault.MaxFileSize,
		MinRetention: time.Duration(cfg.Vault.MinRetentionHours) * time.Hour,
		MaxRetention: time.Duration(cfg.Vault.MaxRetentionHours) * time.Hour,
		ScanTimeout:  time.Duration(cfg.ClamAV.TimeoutSeconds) * time.Second,
	})

	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 1m", func() {
		if _, err := engine.SweepExpired(context.Background()); err != nil {
			log.Printf("Expiry sweep failed: %v", err)
		}
	}); err != nil {
		log.Fatal("Failed to schedule expiry sweep: ", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	api := NewAPI(engine, cfg.API.AdminKey)

	router := gin.Default()
	api.RegisterRoutes(router)

	log.Printf("Starting server on port %s", cfg.API.Port)
	if err := router.Run(":" + cfg.API.Port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}
