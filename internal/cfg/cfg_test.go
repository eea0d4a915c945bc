package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(t *testing.T, settings Settings)
	}{
		{
			name:    "defaults with no environment",
			envVars: map[string]string{},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.ListenAddr != ":8090" {
					t.Errorf("expected default ListenAddr ':8090', got %s", settings.ListenAddr)
				}
				if settings.MetricsPort != 9090 {
					t.Errorf("expected default MetricsPort 9090, got %d", settings.MetricsPort)
				}
				if settings.WeightA != 0.6 || settings.WeightB != 0.4 {
					t.Errorf("expected default weights 0.6/0.4, got %f/%f", settings.WeightA, settings.WeightB)
				}
				if settings.HighThreshold != 0.70 || settings.MediumThreshold != 0.55 || settings.LowThreshold != 0.40 {
					t.Errorf("expected default thresholds 0.70/0.55/0.40, got %f/%f/%f",
						settings.HighThreshold, settings.MediumThreshold, settings.LowThreshold)
				}
				if settings.MinSamples != 500 {
					t.Errorf("expected default MinSamples 500, got %d", settings.MinSamples)
				}
				if settings.Folds != 5 {
					t.Errorf("expected default Folds 5, got %d", settings.Folds)
				}
			},
		},
		{
			name: "custom settings",
			envVars: map[string]string{
				"LISTEN_ADDR":  ":9999",
				"MODEL_DIR":    "/var/models",
				"MIN_SAMPLES":  "250",
				"REST_TIMEOUT": "5s",
				"CACHE_SIZE":   "64",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.ListenAddr != ":9999" {
					t.Errorf("expected ListenAddr ':9999', got %s", settings.ListenAddr)
				}
				if settings.ModelDir != "/var/models" {
					t.Errorf("expected ModelDir '/var/models', got %s", settings.ModelDir)
				}
				if settings.MinSamples != 250 {
					t.Errorf("expected MinSamples 250, got %d", settings.MinSamples)
				}
				if settings.RESTTimeout != 5*time.Second {
					t.Errorf("expected RESTTimeout 5s, got %v", settings.RESTTimeout)
				}
				if settings.CacheSize != 64 {
					t.Errorf("expected CacheSize 64, got %d", settings.CacheSize)
				}
			},
		},
		{
			name: "weights that do not sum to one",
			envVars: map[string]string{
				"WEIGHT_A": "0.7",
				"WEIGHT_B": "0.4",
			},
			wantErr: true,
		},
		{
			name: "thresholds out of order",
			envVars: map[string]string{
				"HIGH_THRESHOLD":   "0.5",
				"MEDIUM_THRESHOLD": "0.6",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)

			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			settings, err := loadFromEnv()

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	tests := []struct {
		name         string
		yamlContent  string
		envOverrides map[string]string
		wantErr      bool
		validate     func(t *testing.T, settings Settings)
	}{
		{
			name: "valid YAML config",
			yamlContent: `
server:
  listenAddr: ":8085"
  metricsPort: 9095
  restTimeout: "15s"

model:
  dir: "/srv/models"
  weightA: 0.6
  weightB: 0.4
  highThreshold: 0.75
  mediumThreshold: 0.60
  lowThreshold: 0.45
  cacheSize: 2048

training:
  minSamples: 300
  folds: 4
  maxBatchSize: 500

data:
  path: "/srv/data/samples.db"
  remoteURL: "https://signals.example.com"

system:
  logLevel: "debug"
`,
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.ListenAddr != ":8085" {
					t.Errorf("expected ListenAddr ':8085', got %s", settings.ListenAddr)
				}
				if settings.MetricsPort != 9095 {
					t.Errorf("expected MetricsPort 9095, got %d", settings.MetricsPort)
				}
				if settings.RESTTimeout != 15*time.Second {
					t.Errorf("expected RESTTimeout 15s, got %v", settings.RESTTimeout)
				}
				if settings.ModelDir != "/srv/models" {
					t.Errorf("expected ModelDir '/srv/models', got %s", settings.ModelDir)
				}
				if settings.HighThreshold != 0.75 {
					t.Errorf("expected HighThreshold 0.75, got %f", settings.HighThreshold)
				}
				if settings.MinSamples != 300 {
					t.Errorf("expected MinSamples 300, got %d", settings.MinSamples)
				}
				if settings.Folds != 4 {
					t.Errorf("expected Folds 4, got %d", settings.Folds)
				}
				if settings.RemoteURL != "https://signals.example.com" {
					t.Errorf("expected RemoteURL from YAML, got %s", settings.RemoteURL)
				}
				if settings.LogLevel != "debug" {
					t.Errorf("expected LogLevel 'debug', got %s", settings.LogLevel)
				}
			},
		},
		{
			name: "YAML with env overrides",
			yamlContent: `
server:
  listenAddr: ":8085"
model:
  dir: "/srv/models"
training:
  minSamples: 300
`,
			envOverrides: map[string]string{
				"LISTEN_ADDR": ":7070",
				"MIN_SAMPLES": "750",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.ListenAddr != ":7070" {
					t.Errorf("expected env override ListenAddr ':7070', got %s", settings.ListenAddr)
				}
				if settings.ModelDir != "/srv/models" {
					t.Errorf("expected YAML ModelDir '/srv/models', got %s", settings.ModelDir)
				}
				if settings.MinSamples != 750 {
					t.Errorf("expected env override MinSamples 750, got %d", settings.MinSamples)
				}
			},
		},
		{
			name:        "invalid YAML",
			yamlContent: `invalid: yaml: content: [`,
			wantErr:     true,
		},
		{
			name: "invalid thresholds in YAML",
			yamlContent: `
model:
  highThreshold: 0.4
  mediumThreshold: 0.55
  lowThreshold: 0.7
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)

			for key, value := range tt.envOverrides {
				t.Setenv(key, value)
			}

			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.yamlContent), 0o644)
			if err != nil {
				t.Fatalf("failed to write test config file: %v", err)
			}

			settings, err := loadFromYAML(configPath)

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("load from env when no config file", func(t *testing.T) {
		clearTestEnv(t)
		t.Setenv("MODEL_DIR", "/env/models")

		settings, err := Load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if settings.ModelDir != "/env/models" {
			t.Errorf("expected ModelDir '/env/models', got %s", settings.ModelDir)
		}
	})

	t.Run("load from YAML when config file specified", func(t *testing.T) {
		clearTestEnv(t)

		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.yaml")
		content := `
model:
  dir: "/yaml/models"
`
		if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write test config file: %v", err)
		}
		t.Setenv("CONFIG_FILE", configPath)

		settings, err := Load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if settings.ModelDir != "/yaml/models" {
			t.Errorf("expected ModelDir '/yaml/models', got %s", settings.ModelDir)
		}
	})
}

// clearTestEnv clears potentially conflicting environment variables
func clearTestEnv(t *testing.T) {
	envVars := []string{
		"LISTEN_ADDR", "METRICS_PORT", "REST_TIMEOUT", "LOG_LEVEL",
		"MODEL_DIR", "DATA_PATH", "REMOTE_URL", "REMOTE_API_KEY",
		"WEIGHT_A", "WEIGHT_B", "HIGH_THRESHOLD", "MEDIUM_THRESHOLD", "LOW_THRESHOLD",
		"CACHE_SIZE", "MIN_SAMPLES", "FOLDS", "MAX_BATCH_SIZE", "CONFIG_FILE",
	}

	for _, env := range envVars {
		if val := os.Getenv(env); val != "" {
			t.Setenv(env, "")
		}
	}
}
