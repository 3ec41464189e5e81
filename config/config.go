package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Store drivers understood by storage.Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	RawHTMLDir       string
	SourcePrefix     string
	FieldsConfigPath string
	CSVOutputPath    string

	StoreDriver      string
	SQLitePath       string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	ChartOutputDir string
	ChartFormat    string
	ReportPath     string
	ReportSnapshot bool
	ChromeBin      string

	MaxConcurrency int
	MaxRetries     int

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

// Load reads the .env file (if present) and returns a populated Config struct.
// Extra env files, when given, are loaded first and win over .env.
func Load(envFiles ...string) *Config {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			log.Printf("[config] Could not load env file %s: %v", f, err)
		}
	}
	if err := godotenv.Load(); err != nil && len(envFiles) == 0 {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		RawHTMLDir:       getEnv("RAW_HTML_DIR", "./data/raw/scraped_html"),
		SourcePrefix:     getEnv("SOURCE_PREFIX", "similarweb"),
		FieldsConfigPath: getEnv("FIELDS_CONFIG_PATH", ""),
		CSVOutputPath:    getEnv("CSV_OUTPUT_PATH", "./data/transformed/records.csv"),

		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		SQLitePath:       getEnv("SQLITE_PATH", "./db/scraped_data.sqlite"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "seoetl"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "seoetl123"),
		PostgresDB:       getEnv("POSTGRES_DB", "seo_metrics"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		ChartOutputDir: getEnv("CHART_OUTPUT_DIR", "./data/visualizations"),
		ChartFormat:    strings.ToLower(getEnv("CHART_FORMAT", "png")),
		ReportPath:     getEnv("REPORT_PATH", "./data/visualizations/report.html"),
		ReportSnapshot: getEnvBool("REPORT_SNAPSHOT", false),
		ChromeBin:      getEnv("CHROME_BIN", ""),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 1),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 10),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// InputFiles lists the HTML snapshots in RawHTMLDir matching SourcePrefix,
// sorted by name.
func (c *Config) InputFiles() ([]string, error) {
	return filepath.Glob(filepath.Join(c.RawHTMLDir, c.SourcePrefix+"*.html"))
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
