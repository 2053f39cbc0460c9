// Package config loads the seedqc runtime configuration from the environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"seedqc/pkg/domain"
)

// Config represents the full application configuration surface.
type Config struct {
	Storage   StorageConfig
	Audit     AuditConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Dashboard DashboardConfig
	Roles     RolesConfig
	Trace     TraceConfig
	// KindsFile optionally points at a YAML file of kind descriptor overrides.
	KindsFile string
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
	MongoURI    string
	MongoDB     string
}

// AuditConfig selects where committed record versions are archived.
type AuditConfig struct {
	Driver string
	FSRoot string
	S3     S3Config
}

// S3Config holds the bucket settings for the s3 audit driver.
type S3Config struct {
	Region    string
	Bucket    string
	Prefix    string
	Endpoint  string
	PathStyle bool
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string
}

// MetricsConfig holds the metrics endpoint address used by serve.
type MetricsConfig struct {
	Addr string
}

// DashboardConfig holds the schedule of the periodic dashboard log.
type DashboardConfig struct {
	Cron string
}

// TraceConfig points at an optional JSON-lines span file.
type TraceConfig struct {
	File string
}

// RolesConfig lists privileged roles and the roles whose edits force re-approval.
type RolesConfig struct {
	Privileged []domain.Role
	Reapproval []domain.Role
}

// Audit drivers.
const (
	AuditLog    = "log"
	AuditMemory = "memory"
	AuditFS     = "fs"
	AuditS3     = "s3"
)

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		_ = godotenv.Load()
	}

	pathStyle, err := strconv.ParseBool(getenvWithDefault("SEEDQC_AUDIT_S3_PATH_STYLE", "false"))
	if err != nil {
		return nil, fmt.Errorf("SEEDQC_AUDIT_S3_PATH_STYLE: %w", err)
	}

	cfg := &Config{
		Storage: StorageConfig{
			Driver:      getenvWithDefault("SEEDQC_STORAGE_DRIVER", "sqlite"),
			SQLitePath:  getenvWithDefault("SEEDQC_SQLITE_PATH", "seedqc.db"),
			PostgresDSN: os.Getenv("SEEDQC_POSTGRES_DSN"),
			MongoURI:    os.Getenv("SEEDQC_MONGO_URI"),
			MongoDB:     getenvWithDefault("SEEDQC_MONGO_DB", "seedqc"),
		},
		Audit: AuditConfig{
			Driver: getenvWithDefault("SEEDQC_AUDIT_DRIVER", AuditLog),
			FSRoot: getenvWithDefault("SEEDQC_AUDIT_FS_ROOT", "audit"),
			S3: S3Config{
				Region:    os.Getenv("SEEDQC_AUDIT_S3_REGION"),
				Bucket:    os.Getenv("SEEDQC_AUDIT_S3_BUCKET"),
				Prefix:    os.Getenv("SEEDQC_AUDIT_S3_PREFIX"),
				Endpoint:  os.Getenv("SEEDQC_AUDIT_S3_ENDPOINT"),
				PathStyle: pathStyle,
			},
		},
		Log: LogConfig{
			Level: getenvWithDefault("SEEDQC_LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Addr: getenvWithDefault("SEEDQC_METRICS_ADDR", ":9090"),
		},
		Dashboard: DashboardConfig{
			Cron: getenvWithDefault("SEEDQC_DASHBOARD_CRON", "*/15 * * * *"),
		},
		Roles: RolesConfig{
			Privileged: parseRoles(getenvWithDefault("SEEDQC_PRIVILEGED_ROLES", "manager,admin")),
			Reapproval: parseRoles(os.Getenv("SEEDQC_REAPPROVAL_ROLES")),
		},
		Trace: TraceConfig{
			File: os.Getenv("SEEDQC_TRACE_FILE"),
		},
		KindsFile: os.Getenv("SEEDQC_KINDS_FILE"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("SEEDQC_SQLITE_PATH must not be empty")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("SEEDQC_POSTGRES_DSN must be provided")
		}
	case "mongo":
		if c.Storage.MongoURI == "" {
			return errors.New("SEEDQC_MONGO_URI must be provided")
		}
		if c.Storage.MongoDB == "" {
			return errors.New("SEEDQC_MONGO_DB must not be empty")
		}
	default:
		return fmt.Errorf("SEEDQC_STORAGE_DRIVER %q is not supported", c.Storage.Driver)
	}

	switch c.Audit.Driver {
	case AuditLog, AuditMemory:
	case AuditFS:
		if c.Audit.FSRoot == "" {
			return errors.New("SEEDQC_AUDIT_FS_ROOT must not be empty")
		}
	case AuditS3:
		if c.Audit.S3.Bucket == "" {
			return errors.New("SEEDQC_AUDIT_S3_BUCKET must be provided")
		}
	default:
		return fmt.Errorf("SEEDQC_AUDIT_DRIVER %q is not supported", c.Audit.Driver)
	}

	if c.Dashboard.Cron != "" {
		if _, err := cron.ParseStandard(c.Dashboard.Cron); err != nil {
			return fmt.Errorf("SEEDQC_DASHBOARD_CRON: %w", err)
		}
	}

	if len(c.Roles.Privileged) == 0 {
		return errors.New("SEEDQC_PRIVILEGED_ROLES must name at least one role")
	}
	for _, r := range c.Roles.Reapproval {
		for _, p := range c.Roles.Privileged {
			if r == p {
				return fmt.Errorf("role %s cannot be both privileged and subject to re-approval", r)
			}
		}
	}
	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseRoles(raw string) []domain.Role {
	var roles []domain.Role
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			roles = append(roles, domain.Role(part))
		}
	}
	return roles
}
