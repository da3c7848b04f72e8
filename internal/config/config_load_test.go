package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Helper function to reset pflag.CommandLine for testing
func resetFlags() {
	pflag.CommandLine = pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	viper.Reset()
}

// Helper function to set os.Args for testing
func setArgs(args []string) {
	os.Args = args
}

var envVars = []string{
	"FIELD_MAPPER_MODE", "FIELD_MAPPER_HOST", "FIELD_MAPPER_PORT", "FIELD_MAPPER_DIR",
	"FIELD_MAPPER_TEMPLATE", "FIELD_MAPPER_STORE", "FIELD_MAPPER_LOGLEVEL",
	"FIELD_MAPPER_MAXFILESIZE", "FIELD_MAPPER_GCSBUCKET",
}

// Helper function to clear environment variables
func clearEnvVars() {
	for _, name := range envVars {
		os.Unsetenv(name)
	}
}

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	originalArgs := os.Args
	t.Cleanup(func() {
		os.Args = originalArgs
		resetFlags()
		clearEnvVars()
	})
	setArgs(append([]string{"pdf-field-mapper"}, args...))
	resetFlags()
}

func TestLoadFromFlags_DefaultConfig(t *testing.T) {
	clearEnvVars()
	withArgs(t)

	cfg, err := LoadFromFlags()
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}

	if cfg.Mode != "stdio" {
		t.Errorf("LoadFromFlags() Mode = %v, want %v", cfg.Mode, "stdio")
	}
	if cfg.Port != 8080 {
		t.Errorf("LoadFromFlags() Port = %v, want %v", cfg.Port, 8080)
	}
	if cfg.Store != "file" {
		t.Errorf("LoadFromFlags() Store = %v, want file", cfg.Store)
	}
	if cfg.StorePath != filepath.Join(cfg.Directory, ".field-mapper") {
		t.Errorf("LoadFromFlags() StorePath = %v", cfg.StorePath)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("LoadFromFlags() CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadFromFlags_ValidFlags(t *testing.T) {
	dir := t.TempDir()
	clearEnvVars()
	withArgs(t,
		"--mode=server", "--host=0.0.0.0", "--port=9090", "--dir="+dir,
		"--template=forms/app.pdf", "--store=sqlite", "--storagekey=dev-map",
		"--minscale=0.25", "--maxscale=3", "--scalestep=0.5", "--defaultscale=1.5",
		"--loglevel=debug", "--maxfilesize=2048", "--gcsbucket=assets",
		"--corsorigins=https://admin.example.com",
	)

	cfg, err := LoadFromFlags()
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}

	if cfg.Mode != "server" || cfg.Host != "0.0.0.0" || cfg.Port != 9090 {
		t.Errorf("LoadFromFlags() server = %s %s:%d", cfg.Mode, cfg.Host, cfg.Port)
	}
	if cfg.TemplatePath() != filepath.Join(dir, "forms", "app.pdf") {
		t.Errorf("LoadFromFlags() TemplatePath = %s", cfg.TemplatePath())
	}
	if cfg.Store != "sqlite" || cfg.StorePath != filepath.Join(dir, ".field-mapper", "field-map.db") {
		t.Errorf("LoadFromFlags() store = %s at %s", cfg.Store, cfg.StorePath)
	}
	if cfg.StorageKey != "dev-map" {
		t.Errorf("LoadFromFlags() StorageKey = %s", cfg.StorageKey)
	}
	if cfg.MinScale != 0.25 || cfg.MaxScale != 3 || cfg.ScaleStep != 0.5 || cfg.DefaultScale != 1.5 {
		t.Errorf("LoadFromFlags() zoom = %g..%g step %g initial %g", cfg.MinScale, cfg.MaxScale, cfg.ScaleStep, cfg.DefaultScale)
	}
	if cfg.LogLevel != "debug" || cfg.MaxFileSize != 2048 {
		t.Errorf("LoadFromFlags() loglevel %s maxfilesize %d", cfg.LogLevel, cfg.MaxFileSize)
	}
	if !cfg.PublishingEnabled() || cfg.GCSObject != "field-map.json" {
		t.Errorf("LoadFromFlags() publishing %s/%s", cfg.GCSBucket, cfg.GCSObject)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://admin.example.com" {
		t.Errorf("LoadFromFlags() CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadFromFlags_EnvironmentVariables(t *testing.T) {
	dir := t.TempDir()
	clearEnvVars()
	withArgs(t)

	os.Setenv("FIELD_MAPPER_MODE", "server")
	os.Setenv("FIELD_MAPPER_PORT", "3000")
	os.Setenv("FIELD_MAPPER_DIR", dir)
	os.Setenv("FIELD_MAPPER_STORE", "memory")
	os.Setenv("FIELD_MAPPER_LOGLEVEL", "warn")

	cfg, err := LoadFromFlags()
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}

	if cfg.Mode != "server" {
		t.Errorf("LoadFromFlags() Mode = %v, want server", cfg.Mode)
	}
	if cfg.Port != 3000 {
		t.Errorf("LoadFromFlags() Port = %v, want 3000", cfg.Port)
	}
	if cfg.Directory != dir {
		t.Errorf("LoadFromFlags() Directory = %v, want %v", cfg.Directory, dir)
	}
	if cfg.Store != "memory" || cfg.StorePath != "" {
		t.Errorf("LoadFromFlags() store = %s at %q", cfg.Store, cfg.StorePath)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LoadFromFlags() LogLevel = %v, want warn", cfg.LogLevel)
	}
}

func TestLoadFromFlags_FlagOverridesEnvironment(t *testing.T) {
	clearEnvVars()
	withArgs(t, "--mode=stdio", "--port=8888")

	os.Setenv("FIELD_MAPPER_MODE", "server")
	os.Setenv("FIELD_MAPPER_PORT", "3000")

	cfg, err := LoadFromFlags()
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}

	if cfg.Mode != "stdio" {
		t.Errorf("LoadFromFlags() Mode = %v, want stdio (should override env)", cfg.Mode)
	}
	if cfg.Port != 8888 {
		t.Errorf("LoadFromFlags() Port = %v, want 8888 (should override env)", cfg.Port)
	}
}

func TestLoadFromFlags_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "field-mapper.yaml")
	content := "template: intake.pdf\nstore: memory\nmaxscale: 3\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	clearEnvVars()
	withArgs(t, "--config="+file, "--dir="+dir)

	cfg, err := LoadFromFlags()
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}

	if cfg.ConfigFile != file {
		t.Errorf("LoadFromFlags() ConfigFile = %s", cfg.ConfigFile)
	}
	if cfg.Template != "intake.pdf" || cfg.Store != "memory" || cfg.MaxScale != 3 {
		t.Errorf("LoadFromFlags() did not apply config file: %s", cfg.String())
	}
}

func TestLoadFromFlags_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "invalid mode", args: []string{"--mode=invalid"}, wantErr: "mode must be either 'stdio' or 'server'"},
		{name: "invalid port", args: []string{"--mode=server", "--port=99999"}, wantErr: "port must be between 1 and 65535"},
		{name: "invalid log level", args: []string{"--loglevel=invalid"}, wantErr: "invalid log level"},
		{name: "invalid store", args: []string{"--store=postgres"}, wantErr: "invalid store"},
		{name: "missing config file", args: []string{"--config=/does/not/exist.yaml"}, wantErr: "failed to read config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			withArgs(t, append(tt.args, "--dir="+t.TempDir())...)

			_, err := LoadFromFlags()
			if err == nil {
				t.Fatalf("LoadFromFlags() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadFromFlags() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFlags_VersionFlag(t *testing.T) {
	clearEnvVars()
	withArgs(t, "--version")

	_, err := LoadFromFlags()
	if err == nil {
		t.Error("LoadFromFlags() expected version error")
	}
	if err != nil && err.Error() != "version requested" {
		t.Errorf("LoadFromFlags() error = %v, want 'version requested'", err)
	}
}
