package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/a3tai/pdf-field-mapper/internal/store"
	"github.com/a3tai/pdf-field-mapper/internal/viewer"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Default values
	DefaultPort        = 8080
	DefaultHost        = "127.0.0.1"
	DefaultLogLevel    = "info"
	DefaultMaxFileSize = 100 * 1024 * 1024 // 100MB
	DefaultTemplate    = "driver-application.pdf"
	DefaultStoreDir    = ".field-mapper"
	DefaultSQLiteFile  = "field-map.db"
	DefaultGCSObject   = "field-map.json"

	// Directory permissions
	DefaultDirPerm = 0o750

	envPrefix = "FIELD_MAPPER"
)

// DefaultCORSOrigins are the local dev origins allowed to call the HTTP API
var DefaultCORSOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

// Config holds all configuration for the field mapper
type Config struct {
	// Server configuration
	Mode        string // "server" or "stdio"
	Host        string
	Port        int
	CORSOrigins []string

	// Workspace configuration
	Directory   string // template, imports and outputs live here
	Template    string
	MaxFileSize int64 // Maximum template and import size in bytes

	// Field store configuration
	Store      string // memory, file or sqlite
	StorePath  string
	StorageKey string

	// Zoom configuration
	MinScale     float64
	MaxScale     float64
	ScaleStep    float64
	DefaultScale float64

	// Publishing configuration
	GCSBucket string
	GCSObject string

	// Application configuration
	ConfigFile string
	Version    string
	ServerName string
	LogLevel   string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		// Fallback to current directory if working directory cannot be determined
		currentDir = "."
	}

	zoom := viewer.DefaultOptions()
	return &Config{
		Mode:         ModeStdio, // Default to stdio mode for MCP compatibility
		Host:         DefaultHost,
		Port:         DefaultPort,
		CORSOrigins:  append([]string(nil), DefaultCORSOrigins...),
		Directory:    currentDir,
		Template:     DefaultTemplate,
		MaxFileSize:  DefaultMaxFileSize,
		Store:        store.BackendFile,
		StorageKey:   store.DefaultKey,
		MinScale:     zoom.MinScale,
		MaxScale:     zoom.MaxScale,
		ScaleStep:    zoom.ScaleStep,
		DefaultScale: zoom.InitialScale,
		GCSObject:    DefaultGCSObject,
		Version:      "1.0.0",
		ServerName:   "pdf-field-mapper",
		LogLevel:     DefaultLogLevel,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
		cfg.ConfigFile = file
	}

	populateConfigFromViper(cfg)
	cfg.resolvePaths()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	// Set environment variable prefix
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("dir", cfg.Directory)
	viper.SetDefault("template", cfg.Template)
	viper.SetDefault("store", cfg.Store)
	viper.SetDefault("storepath", "")
	viper.SetDefault("storagekey", cfg.StorageKey)
	viper.SetDefault("minscale", cfg.MinScale)
	viper.SetDefault("maxscale", cfg.MaxScale)
	viper.SetDefault("scalestep", cfg.ScaleStep)
	viper.SetDefault("defaultscale", cfg.DefaultScale)
	viper.SetDefault("loglevel", cfg.LogLevel)
	viper.SetDefault("maxfilesize", cfg.MaxFileSize)
	viper.SetDefault("gcsbucket", "")
	viper.SetDefault("gcsobject", cfg.GCSObject)
	viper.SetDefault("corsorigins", cfg.CORSOrigins)
	viper.SetDefault("config", "")
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Run mode: 'stdio' for MCP standard I/O, 'server' for the HTTP API")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("dir", cfg.Directory, "Workspace directory holding the template, imports and outputs")
	pflag.String("template", cfg.Template, "PDF template to map, relative to the workspace")
	pflag.String("store", cfg.Store, "Field store backend: memory, file or sqlite")
	pflag.String("storepath", "", "Store directory (file) or database file (sqlite); defaults under the workspace")
	pflag.String("storagekey", cfg.StorageKey, "Key the field collection is saved under")
	pflag.Float64("minscale", cfg.MinScale, "Minimum zoom")
	pflag.Float64("maxscale", cfg.MaxScale, "Maximum zoom")
	pflag.Float64("scalestep", cfg.ScaleStep, "Zoom step")
	pflag.Float64("defaultscale", cfg.DefaultScale, "Initial zoom")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.Int64("maxfilesize", cfg.MaxFileSize, "Maximum template and import size in bytes")
	pflag.String("gcsbucket", "", "Cloud Storage bucket the field map is published to (publishing disabled when empty)")
	pflag.String("gcsobject", cfg.GCSObject, "Cloud Storage object name for the published field map")
	pflag.StringSlice("corsorigins", cfg.CORSOrigins, "Browser origins allowed to call the HTTP API")
	pflag.String("config", "", "Optional config file (yaml, json or toml)")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, name := range []string{
		"mode", "host", "port", "dir", "template", "store", "storepath", "storagekey",
		"minscale", "maxscale", "scalestep", "defaultscale", "loglevel", "maxfilesize",
		"gcsbucket", "gcsobject", "corsorigins", "config",
	} {
		_ = viper.BindPFlag(name, pflag.Lookup(name))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nPDF Field Mapper - place and maintain the field map used to fill a PDF template\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                            "+
			"# stdio mode, current directory (default)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --dir=/srv/forms --template=app.pdf         "+
			"# custom workspace and template\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --store=sqlite                # HTTP API with sqlite store\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --host=0.0.0.0 --port=8081    # server on all interfaces\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  Every option can be set as %s_<OPTION>, e.g. %s_MODE, %s_GCSBUCKET\n",
			envPrefix, envPrefix, envPrefix)
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.Directory = viper.GetString("dir")
	cfg.Template = viper.GetString("template")
	cfg.Store = viper.GetString("store")
	cfg.StorePath = viper.GetString("storepath")
	cfg.StorageKey = viper.GetString("storagekey")
	cfg.MinScale = viper.GetFloat64("minscale")
	cfg.MaxScale = viper.GetFloat64("maxscale")
	cfg.ScaleStep = viper.GetFloat64("scalestep")
	cfg.DefaultScale = viper.GetFloat64("defaultscale")
	cfg.LogLevel = viper.GetString("loglevel")
	cfg.MaxFileSize = viper.GetInt64("maxfilesize")
	cfg.GCSBucket = viper.GetString("gcsbucket")
	cfg.GCSObject = viper.GetString("gcsobject")
	cfg.CORSOrigins = viper.GetStringSlice("corsorigins")
}

// resolvePaths makes the workspace absolute and fills in the store path under it
func (c *Config) resolvePaths() {
	if c.Directory != "" {
		if expandedPath, err := filepath.Abs(c.Directory); err == nil {
			c.Directory = expandedPath
		}
	}

	if c.StorePath == "" && c.Directory != "" {
		switch c.Store {
		case store.BackendFile:
			c.StorePath = filepath.Join(c.Directory, DefaultStoreDir)
		case store.BackendSQLite:
			c.StorePath = filepath.Join(c.Directory, DefaultStoreDir, DefaultSQLiteFile)
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate mode
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	// Validate workspace directory
	if c.Directory == "" {
		return errors.New("workspace directory cannot be empty")
	}

	// Check if workspace directory exists, create if it doesn't
	if _, err := os.Stat(c.Directory); os.IsNotExist(err) {
		if err := os.MkdirAll(c.Directory, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create workspace directory %s: %w", c.Directory, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access workspace directory %s: %w", c.Directory, err)
	}

	if strings.TrimSpace(c.Template) == "" {
		return errors.New("template cannot be empty")
	}

	switch c.Store {
	case store.BackendMemory:
	case store.BackendFile, store.BackendSQLite:
		if c.StorePath == "" {
			return fmt.Errorf("store path is required for the %s store", c.Store)
		}
	default:
		return fmt.Errorf("invalid store: %s (must be one of: memory, file, sqlite)", c.Store)
	}

	if c.StorageKey == "" {
		return errors.New("storage key cannot be empty")
	}

	// Validate zoom range
	if c.MinScale <= 0 || c.MaxScale < c.MinScale {
		return fmt.Errorf("invalid zoom range [%g, %g]", c.MinScale, c.MaxScale)
	}
	if c.ScaleStep <= 0 {
		return errors.New("zoom step must be positive")
	}
	if c.DefaultScale < c.MinScale || c.DefaultScale > c.MaxScale {
		return fmt.Errorf("default zoom %g is outside [%g, %g]", c.DefaultScale, c.MinScale, c.MaxScale)
	}

	// Validate max file size
	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	if c.GCSBucket != "" && c.GCSObject == "" {
		return errors.New("gcs object cannot be empty when a bucket is set")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// ViewerOptions returns the zoom bounds for new viewers
func (c *Config) ViewerOptions() viewer.Options {
	return viewer.Options{
		MinScale:     c.MinScale,
		MaxScale:     c.MaxScale,
		ScaleStep:    c.ScaleStep,
		InitialScale: c.DefaultScale,
	}
}

// TemplatePath returns the template path, joined to the workspace when relative
func (c *Config) TemplatePath() string {
	if filepath.IsAbs(c.Template) {
		return c.Template
	}
	return filepath.Join(c.Directory, c.Template)
}

// PublishingEnabled reports whether a publishing bucket is configured
func (c *Config) PublishingEnabled() bool {
	return c.GCSBucket != ""
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, Directory: %s, Template: %s, Store: %s, "+
		"StorePath: %s, LogLevel: %s, MaxFileSize: %d}",
		c.Mode, c.Host, c.Port, c.Directory, c.Template, c.Store, c.StorePath, c.LogLevel, c.MaxFileSize)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
