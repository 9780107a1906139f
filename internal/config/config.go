package config

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// FileReader abstracts file access so .env loading can be tested without touching disk
type FileReader interface {
	Open(name string) (io.ReadCloser, error)
	Stat(name string) (os.FileInfo, error)
}

// OSFileReader reads from the real filesystem
type OSFileReader struct{}

func (OSFileReader) Open(name string) (io.ReadCloser, error) { return os.Open(name) }
func (OSFileReader) Stat(name string) (os.FileInfo, error)   { return os.Stat(name) }

// Config holds all configuration for the cleanup tool
type Config struct {
	Environment string

	// Store
	DBPath    string
	BackupDir string

	// Pipeline
	RulesPath     string
	ServingPolicy string
	TxMode        string
	MergeFields   bool

	// Enrichment dataset
	ParquetURL           string
	DataDir              string
	ParquetPath          string
	MetadataPath         string
	LockFile             string
	RefreshIntervalHours int
	DisableRemoteCheck   bool
	IgnoreLock           bool

	// Review server
	AuthToken string
	Port      string
}

// Load reads configuration from the environment, after merging in a .env file if one exists
func Load() *Config {
	return LoadWithFileReader(OSFileReader{})
}

// LoadWithFileReader is Load with an injectable reader for the .env file
func LoadWithFileReader(reader FileReader) *Config {
	loadEnvFileWithReader(reader)

	dataDir := getEnv("DATA_DIR", "./data")

	return &Config{
		Environment:          getEnv("ENV", "production"),
		DBPath:               getEnv("DB_PATH", "foods.db"),
		BackupDir:            getEnv("BACKUP_DIR", ""),
		RulesPath:            getEnv("RULES_PATH", ""),
		ServingPolicy:        getEnv("SERVING_POLICY", "flag_for_review"),
		TxMode:               getEnv("TX_MODE", "record"),
		MergeFields:          getBool("DEDUPE_MERGE_FIELDS", false),
		ParquetURL:           getEnv("PARQUET_URL", "https://huggingface.co/datasets/openfoodfacts/product-database/resolve/main/food.parquet"),
		DataDir:              dataDir,
		ParquetPath:          getEnv("PARQUET_PATH", filepath.Join(dataDir, "product-database.parquet")),
		MetadataPath:         getEnv("METADATA_PATH", filepath.Join(dataDir, "metadata.json")),
		LockFile:             getEnv("LOCK_FILE", filepath.Join(dataDir, "refresh.lock")),
		RefreshIntervalHours: getInt("REFRESH_INTERVAL_HOURS", 24),
		DisableRemoteCheck:   getBool("DISABLE_REMOTE_CHECK", false),
		IgnoreLock:           getBool("IGNORE_LOCK", false),
		AuthToken:            getEnv("AUTH_TOKEN", ""),
		Port:                 getEnv("PORT", "8080"),
	}
}

// IsDevelopment reports whether ENV=development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// RefreshInterval returns the dataset refresh interval as a duration
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalHours) * time.Hour
}

// loadEnvFileWithReader sets variables from .env that are not already set.
// Values from the real environment (and so from the command line) win.
func loadEnvFileWithReader(reader FileReader) {
	if _, err := reader.Stat(".env"); err != nil {
		return
	}
	f, err := reader.Open(".env")
	if err != nil {
		return
	}
	defer f.Close()

	values, err := godotenv.Parse(f)
	if err != nil {
		return
	}
	for key, value := range values {
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
