package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"appupdate/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "APPUPDATE_"

// DefaultEnvFile is read from the working directory when present.
const DefaultEnvFile = ".env"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	return LoadWithEnvFile(configPath, DefaultEnvFile)
}

// LoadWithEnvFile is Load with an explicit dotenv file. A missing env file is
// not an error; variables already set in the process environment win over it.
func LoadWithEnvFile(configPath, envFile string) (*models.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadFromEnvironment(config); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	config.Artifacts.Normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// knownSections are the top-level keys of models.Config.
var knownSections = map[string]bool{
	"server":        true,
	"storage":       true,
	"artifacts":     true,
	"security":      true,
	"logging":       true,
	"metrics":       true,
	"observability": true,
}

// warnUnknownSections logs each top-level key the decoder will ignore.
func warnUnknownSections(data []byte) {
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(data, &top); err != nil {
		return
	}
	for key := range top {
		if !knownSections[key] {
			slog.Warn("Unknown config section is ignored", "config_key", key)
		}
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	warnUnknownSections(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// envReader collects the first parse failure so overrides read as a flat list.
type envReader struct {
	err error
}

func (e *envReader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(name string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.lookup(name); ok {
		*dst = v
	}
}

func (e *envReader) integer(name string, dst *int) {
	if v, ok := e.lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(name string, dst *int64) {
	if v, ok := e.lookup(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(name string, dst *float64) {
	if v, ok := e.lookup(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if v, ok := e.lookup(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if v, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) list(name string, dst *[]string) {
	if v, ok := e.lookup(name); ok {
		*dst = splitAndTrim(v, ",")
	}
}

// loadFromEnvironment applies APPUPDATE_* overrides on top of the file.
func loadFromEnvironment(config *models.Config) error {
	env := &envReader{}

	// Server configuration
	env.integer("PORT", &config.Server.Port)
	env.str("HOST", &config.Server.Host)
	env.duration("READ_TIMEOUT", &config.Server.ReadTimeout)
	env.duration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	env.duration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	env.boolean("TLS_ENABLED", &config.Server.TLSEnabled)
	env.str("TLS_CERT_FILE", &config.Server.TLSCertFile)
	env.str("TLS_KEY_FILE", &config.Server.TLSKeyFile)
	env.boolean("CORS_ENABLED", &config.Server.CORS.Enabled)
	env.list("CORS_ALLOWED_ORIGINS", &config.Server.CORS.AllowedOrigins)

	// Storage configuration
	env.str("STORAGE_TYPE", &config.Storage.Type)
	env.str("DATABASE_DSN", &config.Storage.Database.DSN)
	env.integer("DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	env.integer("DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)
	env.duration("DATABASE_CONN_MAX_LIFETIME", &config.Storage.Database.ConnMaxLifetime)
	env.duration("DATABASE_CONNECT_TIMEOUT", &config.Storage.Database.ConnectTimeout)

	// Artifact configuration
	env.str("ARTIFACT_ROOT_DIR", &config.Artifacts.RootDir)
	env.str("ARTIFACT_BASE_URL", &config.Artifacts.BaseURL)
	env.str("ARTIFACT_DOWNLOAD_PATH", &config.Artifacts.DownloadPath)
	env.int64("MAX_UPLOAD_SIZE", &config.Artifacts.MaxUploadSize)

	// Security configuration
	env.boolean("ENABLE_AUTH", &config.Security.EnableAuth)
	if v, ok := env.lookup("API_KEYS"); ok {
		keys, err := parseAPIKeys(v)
		if err != nil {
			env.fail("API_KEYS", err)
		} else {
			config.Security.APIKeys = keys
		}
	}
	env.boolean("RATE_LIMIT_ENABLED", &config.Security.RateLimit.Enabled)
	env.integer("RATE_LIMIT_REQUESTS_PER_MINUTE", &config.Security.RateLimit.RequestsPerMinute)
	env.integer("RATE_LIMIT_BURST_SIZE", &config.Security.RateLimit.BurstSize)
	env.integer("RATE_LIMIT_AUTHENTICATED_REQUESTS_PER_MINUTE", &config.Security.RateLimit.AuthenticatedRequestsPerMinute)
	env.integer("RATE_LIMIT_AUTHENTICATED_BURST_SIZE", &config.Security.RateLimit.AuthenticatedBurstSize)

	// Logging configuration
	env.str("LOG_LEVEL", &config.Logging.Level)
	env.str("LOG_FORMAT", &config.Logging.Format)
	env.str("LOG_OUTPUT", &config.Logging.Output)
	env.str("LOG_FILE_PATH", &config.Logging.FilePath)
	env.integer("LOG_MAX_SIZE", &config.Logging.MaxSize)
	env.integer("LOG_MAX_BACKUPS", &config.Logging.MaxBackups)
	env.integer("LOG_MAX_AGE", &config.Logging.MaxAge)
	env.boolean("LOG_COMPRESS", &config.Logging.Compress)

	// Metrics configuration
	env.boolean("METRICS_ENABLED", &config.Metrics.Enabled)
	env.str("METRICS_PATH", &config.Metrics.Path)
	env.integer("METRICS_PORT", &config.Metrics.Port)

	// Observability configuration
	env.str("SERVICE_NAME", &config.Observability.ServiceName)
	env.boolean("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	env.str("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	env.str("TRACING_OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	env.float("TRACING_SAMPLE_RATE", &config.Observability.Tracing.SampleRate)

	return env.err
}

// parseAPIKeys reads "name:key:perm|perm" entries separated by commas.
func parseAPIKeys(raw string) ([]models.APIKey, error) {
	var keys []models.APIKey
	for _, entry := range splitAndTrim(raw, ",") {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("entry %q must be name:key:permissions", entry)
		}
		perms := splitAndTrim(parts[2], "|")
		if len(perms) == 0 {
			return nil, fmt.Errorf("entry %q has no permissions", parts[0])
		}
		keys = append(keys, models.APIKey{
			Name:        parts[0],
			Key:         parts[1],
			Permissions: perms,
			Enabled:     true,
		})
	}
	return keys, nil
}

// splitAndTrim splits a string by delimiter and drops empty parts
func splitAndTrim(s, delim string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, delim) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

const exampleHeader = `# appupdate configuration.
# Every value can be overridden with an APPUPDATE_* environment variable,
# for example APPUPDATE_DATABASE_DSN or APPUPDATE_API_KEYS=ci:secret:write.
`

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.Security.EnableAuth = true
	config.Security.APIKeys = []models.APIKey{
		{Name: "ci-uploader", Key: "change-me-write", Permissions: []string{models.PermissionWrite}, Enabled: true},
		{Name: "release-manager", Key: "change-me-admin", Permissions: []string{models.PermissionAdmin}, Enabled: true},
	}
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"
	config.Artifacts.BaseURL = "https://updates.example.com"

	var buf bytes.Buffer
	buf.WriteString(exampleHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(config); err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
