package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ENV_PREFIX prefixes every variable read by Load
const ENV_PREFIX = "REGISTRIES_"

// Config contains the process settings
type Config struct {
	DatabaseURL         string
	Port                string
	LogLevel            string
	PrettyLogs          bool
	SchemaFile          string
	ArtifactsDir        string
	KafkaBrokers        []string
	KafkaEventsTopic    string
	KafkaRelationsTopic string
	KafkaBatchSize      int
	FullRelateThreshold float64
	RelatePageSize      int
	ConfirmBatchSize    int
	MaxConflictReports  int
	JWTSecret           string
	MaxConcurrentJobs   int
}

// Default returns settings used when nothing is set
func Default() Config {
	return Config{
		Port:                ":8080",
		LogLevel:            "info",
		SchemaFile:          "registry.yaml",
		KafkaEventsTopic:    "registries.events",
		KafkaRelationsTopic: "registries.relations",
		KafkaBatchSize:      100,
		FullRelateThreshold: 1.0,
		RelatePageSize:      30000,
		ConfirmBatchSize:    10000,
		MaxConflictReports:  10,
		MaxConcurrentJobs:   4,
	}
}

// Load reads the optional env files, then the environment.
// A missing env file is not an error, variables already set win over the file.
func Load(envFiles ...string) (Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", file, err)
		}
	}

	return FromLookup(os.LookupEnv)
}

// FromLookup builds a config with values from lookup, defaults otherwise
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	result := Default()
	reader := envReader{lookup: lookup}

	reader.text("DB_URL", &result.DatabaseURL)
	reader.text("PORT", &result.Port)
	reader.text("LOG_LEVEL", &result.LogLevel)
	reader.boolean("PRETTY_LOGS", &result.PrettyLogs)
	reader.text("SCHEMA_FILE", &result.SchemaFile)
	reader.text("ARTIFACTS_DIR", &result.ArtifactsDir)
	reader.list("KAFKA_BROKERS", &result.KafkaBrokers)
	reader.text("KAFKA_EVENTS_TOPIC", &result.KafkaEventsTopic)
	reader.text("KAFKA_RELATIONS_TOPIC", &result.KafkaRelationsTopic)
	reader.integer("KAFKA_BATCH_SIZE", &result.KafkaBatchSize)
	reader.decimal("FULL_RELATE_THRESHOLD", &result.FullRelateThreshold)
	reader.integer("RELATE_PAGE_SIZE", &result.RelatePageSize)
	reader.integer("CONFIRM_BATCH_SIZE", &result.ConfirmBatchSize)
	reader.integer("MAX_CONFLICT_REPORTS", &result.MaxConflictReports)
	reader.text("JWT_SECRET", &result.JWTSecret)
	reader.integer("MAX_CONCURRENT_JOBS", &result.MaxConcurrentJobs)

	if reader.err != nil {
		return result, reader.err
	}

	if result.Port != "" && !strings.HasPrefix(result.Port, ":") {
		result.Port = ":" + result.Port
	}

	return result, result.Validate()
}

// Validate checks values that would make a component fail later
func (c Config) Validate() error {
	var errs []error
	if c.RelatePageSize <= 0 {
		errs = append(errs, fmt.Errorf("%sRELATE_PAGE_SIZE should be positive, got %d", ENV_PREFIX, c.RelatePageSize))
	}

	if c.FullRelateThreshold < 0 {
		errs = append(errs, fmt.Errorf("%sFULL_RELATE_THRESHOLD should not be negative, got %f", ENV_PREFIX, c.FullRelateThreshold))
	}

	if c.MaxConcurrentJobs <= 0 {
		errs = append(errs, fmt.Errorf("%sMAX_CONCURRENT_JOBS should be positive, got %d", ENV_PREFIX, c.MaxConcurrentJobs))
	}

	if c.KafkaBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("%sKAFKA_BATCH_SIZE should be positive, got %d", ENV_PREFIX, c.KafkaBatchSize))
	}

	return errors.Join(errs...)
}

// envReader reads prefixed variables, keeping the first parse error
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) raw(key string) (string, bool) {
	value, found := r.lookup(ENV_PREFIX + key)
	value = strings.TrimSpace(value)
	return value, found && value != ""
}

func (r *envReader) fail(key, value string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s%s=%q: %w", ENV_PREFIX, key, value, err)
	}
}

func (r *envReader) text(key string, target *string) {
	if value, found := r.raw(key); found {
		*target = value
	}
}

func (r *envReader) list(key string, target *[]string) {
	value, found := r.raw(key)
	if !found {
		return
	}

	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}

	*target = result
}

func (r *envReader) integer(key string, target *int) {
	value, found := r.raw(key)
	if !found {
		return
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.fail(key, value, err)
		return
	}

	*target = parsed
}

func (r *envReader) decimal(key string, target *float64) {
	value, found := r.raw(key)
	if !found {
		return
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.fail(key, value, err)
		return
	}

	*target = parsed
}

func (r *envReader) boolean(key string, target *bool) {
	value, found := r.raw(key)
	if !found {
		return
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.fail(key, value, err)
		return
	}

	*target = parsed
}
