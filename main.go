package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/Kerremmarket/credit/cache"
	"github.com/Kerremmarket/credit/dataset"
	"github.com/Kerremmarket/credit/db"
	"github.com/Kerremmarket/credit/httpapi"
	"github.com/Kerremmarket/credit/logging"
	"github.com/Kerremmarket/credit/ml"
	"github.com/Kerremmarket/credit/monitoring"
)

type Config struct {
	Http struct {
		Port           int      `yaml:"port"`
		Timeout        string   `yaml:"timeout"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"http"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Data struct {
		Dir             string `yaml:"dir"`
		DefaultCSV      string `yaml:"default_csv"`
		MaxTrainingRows int    `yaml:"max_training_rows"`
	} `yaml:"data"`
	Models struct {
		Dir       string `yaml:"dir"`
		MLPEpochs int    `yaml:"mlp_epochs"`
		MLPHidden []int  `yaml:"mlp_hidden"`
	} `yaml:"models"`
	Cache struct {
		Dir           string `yaml:"dir"`
		TTL           string `yaml:"ttl"`
		MemoryEntries int    `yaml:"memory_entries"`
	} `yaml:"cache"`
	Explain struct {
		MaxSamples  int `yaml:"max_samples"`
		PDPGridSize int `yaml:"pdp_grid_size"`
	} `yaml:"explain"`
	Log logging.Config `yaml:"log"`
}

func main() {
	config, err := loadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(config.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logger.Sync()

	if err := db.InitDB(config.Database.Path); err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	defer db.Close()
	logger.Info("database initialized", zap.String("path", config.Database.Path))

	data := dataset.NewManager(config.Data.Dir, config.Data.MaxTrainingRows, logger)
	if config.Data.DefaultCSV != "" {
		if _, err := data.Load(config.Data.DefaultCSV); err != nil {
			logger.Warn("default dataset not loaded", zap.String("csv", config.Data.DefaultCSV), zap.Error(err))
		}
	}

	watcher, err := dataset.NewWatcher(data, logger)
	if err != nil {
		logger.Warn("dataset watcher unavailable", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	store, err := cache.New(config.Cache.Dir, parseDuration(config.Cache.TTL, time.Hour), config.Cache.MemoryEntries, logger)
	if err != nil {
		logger.Fatal("cache init failed", zap.Error(err))
	}

	registry := ml.NewRegistry(config.Models.Dir, logger)
	registry.LoadAll()

	hub := monitoring.NewHub(logger)
	go hub.Start()
	defer hub.Stop()

	api := &httpapi.API{
		Data:              data,
		Models:            registry,
		Cache:             store,
		Hub:               hub,
		Log:               logger,
		MaxExplainSamples: config.Explain.MaxSamples,
		PDPGridSize:       config.Explain.PDPGridSize,
		MLPEpochs:         config.Models.MLPEpochs,
		MLPHidden:         config.Models.MLPHidden,
	}

	serverConfig := httpapi.DefaultServerConfig()
	if config.Http.Port > 0 {
		serverConfig.Port = config.Http.Port
	}
	if config.Http.Timeout != "" {
		serverConfig.Timeout = parseDuration(config.Http.Timeout, serverConfig.Timeout)
	}
	if len(config.Http.AllowedOrigins) > 0 {
		serverConfig.AllowedOrigins = config.Http.AllowedOrigins
	}

	server := httpapi.NewServer(serverConfig, api, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	if err := server.Stop(); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func loadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
