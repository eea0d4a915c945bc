package cfg

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	ListenAddr   string
	MetricsPort  int
	RESTTimeout  time.Duration
	LogLevel     string
	ModelDir     string
	DataPath     string
	RemoteURL    string
	RemoteAPIKey string

	WeightA         float64
	WeightB         float64
	HighThreshold   float64
	MediumThreshold float64
	LowThreshold    float64
	CacheSize       int

	MinSamples   int
	Folds        int
	MaxBatchSize int
}

type ConfigFile struct {
	Server struct {
		ListenAddr  string `yaml:"listenAddr"`
		MetricsPort int    `yaml:"metricsPort"`
		RESTTimeout string `yaml:"restTimeout"`
	} `yaml:"server"`

	Model struct {
		Dir             string  `yaml:"dir"`
		WeightA         float64 `yaml:"weightA"`
		WeightB         float64 `yaml:"weightB"`
		HighThreshold   float64 `yaml:"highThreshold"`
		MediumThreshold float64 `yaml:"mediumThreshold"`
		LowThreshold    float64 `yaml:"lowThreshold"`
		CacheSize       int     `yaml:"cacheSize"`
	} `yaml:"model"`

	Training struct {
		MinSamples   int `yaml:"minSamples"`
		Folds        int `yaml:"folds"`
		MaxBatchSize int `yaml:"maxBatchSize"`
	} `yaml:"training"`

	Data struct {
		Path         string `yaml:"path"`
		RemoteURL    string `yaml:"remoteURL"`
		RemoteAPIKey string `yaml:"remoteAPIKey"`
	} `yaml:"data"`

	System struct {
		LogLevel string `yaml:"logLevel"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	restTimeout, err := time.ParseDuration(config.Server.RESTTimeout)
	if err != nil {
		restTimeout = 10 * time.Second
	}

	settings := Settings{
		ListenAddr:      getEnvOrDefault("LISTEN_ADDR", defaultStr(config.Server.ListenAddr, ":8090")),
		MetricsPort:     getIntFromEnvOrConfig("METRICS_PORT", config.Server.MetricsPort, 9090),
		RESTTimeout:     restTimeout,
		LogLevel:        getEnvOrDefault("LOG_LEVEL", defaultStr(config.System.LogLevel, "info")),
		ModelDir:        getEnvOrDefault("MODEL_DIR", defaultStr(config.Model.Dir, "models")),
		DataPath:        getEnvOrDefault("DATA_PATH", defaultStr(config.Data.Path, "data/samples.db")),
		RemoteURL:       getEnvOrDefault("REMOTE_URL", config.Data.RemoteURL),
		RemoteAPIKey:    getEnvOrDefault("REMOTE_API_KEY", config.Data.RemoteAPIKey),
		WeightA:         getFloatFromEnvOrConfig("WEIGHT_A", config.Model.WeightA, 0.6),
		WeightB:         getFloatFromEnvOrConfig("WEIGHT_B", config.Model.WeightB, 0.4),
		HighThreshold:   getFloatFromEnvOrConfig("HIGH_THRESHOLD", config.Model.HighThreshold, 0.70),
		MediumThreshold: getFloatFromEnvOrConfig("MEDIUM_THRESHOLD", config.Model.MediumThreshold, 0.55),
		LowThreshold:    getFloatFromEnvOrConfig("LOW_THRESHOLD", config.Model.LowThreshold, 0.40),
		CacheSize:       getIntFromEnvOrConfig("CACHE_SIZE", config.Model.CacheSize, 1024),
		MinSamples:      getIntFromEnvOrConfig("MIN_SAMPLES", config.Training.MinSamples, 500),
		Folds:           getIntFromEnvOrConfig("FOLDS", config.Training.Folds, 5),
		MaxBatchSize:    getIntFromEnvOrConfig("MAX_BATCH_SIZE", config.Training.MaxBatchSize, 1000),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ListenAddr:      getEnvOrDefault("LISTEN_ADDR", ":8090"),
		MetricsPort:     getIntOrDefault("METRICS_PORT", 9090),
		RESTTimeout:     getDurationOrDefault("REST_TIMEOUT", 10*time.Second),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		ModelDir:        getEnvOrDefault("MODEL_DIR", "models"),
		DataPath:        getEnvOrDefault("DATA_PATH", "data/samples.db"),
		RemoteURL:       os.Getenv("REMOTE_URL"),    // optional
		RemoteAPIKey:    os.Getenv("REMOTE_API_KEY"), // optional
		WeightA:         getFloatOrDefault("WEIGHT_A", 0.6),
		WeightB:         getFloatOrDefault("WEIGHT_B", 0.4),
		HighThreshold:   getFloatOrDefault("HIGH_THRESHOLD", 0.70),
		MediumThreshold: getFloatOrDefault("MEDIUM_THRESHOLD", 0.55),
		LowThreshold:    getFloatOrDefault("LOW_THRESHOLD", 0.40),
		CacheSize:       getIntOrDefault("CACHE_SIZE", 1024),
		MinSamples:      getIntOrDefault("MIN_SAMPLES", 500),
		Folds:           getIntOrDefault("FOLDS", 5),
		MaxBatchSize:    getIntOrDefault("MAX_BATCH_SIZE", 1000),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func defaultStr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if settings.ModelDir == "" {
		return fmt.Errorf("model directory cannot be empty")
	}
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}

	if settings.MetricsPort < 1024 || settings.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", settings.MetricsPort)
	}
	if settings.RESTTimeout < time.Second || settings.RESTTimeout > time.Minute {
		return fmt.Errorf("REST timeout must be between 1s and 1m, got %v", settings.RESTTimeout)
	}

	if settings.WeightA <= 0 || settings.WeightB <= 0 {
		return fmt.Errorf("ensemble weights must be positive, got %f/%f", settings.WeightA, settings.WeightB)
	}
	if math.Abs(settings.WeightA+settings.WeightB-1) > 1e-9 {
		return fmt.Errorf("ensemble weights must sum to 1, got %f", settings.WeightA+settings.WeightB)
	}
	if !(settings.HighThreshold > settings.MediumThreshold && settings.MediumThreshold > settings.LowThreshold && settings.LowThreshold > 0) {
		return fmt.Errorf("quality thresholds must satisfy high > medium > low > 0, got %f/%f/%f",
			settings.HighThreshold, settings.MediumThreshold, settings.LowThreshold)
	}
	if settings.HighThreshold >= 1 {
		return fmt.Errorf("high threshold must be below 1, got %f", settings.HighThreshold)
	}

	if settings.CacheSize < 1 || settings.CacheSize > 1_000_000 {
		return fmt.Errorf("cache size must be between 1 and 1000000, got %d", settings.CacheSize)
	}
	if settings.MinSamples < 10 {
		return fmt.Errorf("minimum training samples must be at least 10, got %d", settings.MinSamples)
	}
	if settings.Folds < 2 || settings.Folds > 10 {
		return fmt.Errorf("validation folds must be between 2 and 10, got %d", settings.Folds)
	}
	if settings.MaxBatchSize < 1 || settings.MaxBatchSize > 10000 {
		return fmt.Errorf("max batch size must be between 1 and 10000, got %d", settings.MaxBatchSize)
	}

	return nil
}
