// Package config handles environment-based configuration loading and the
// persisted runtime-config models shared by the subsystems.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Directories
	StateDir string

	// Network
	ListenAddress string
	WebhookPort   int

	// Core
	DeviceIOTimeout     time.Duration
	SchedulerStopGrace  time.Duration
	BusMailboxCapacity  int
	BusDiagnosticBudget int
	SeedFile            string

	// Bounded logs
	AuditTrailCapacity  int
	AuditPersistTail    int
	AccessLogCapacity   int
	TimelineCapacity    int
	AlertLogCapacity    int
	AnomalyLogCapacity  int
	DeliveryLogCapacity int

	// Auth
	WebhookAdminToken string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any value is invalid; missing values fall back to defaults.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.StateDir = envStr("HALCYON_STATE_DIR", "/var/lib/halcyon")

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("HALCYON_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.WebhookPort = envInt("HALCYON_WEBHOOK_PORT", 8080, &errs)

	// --- Core ---
	cfg.DeviceIOTimeout = envDuration("HALCYON_DEVICE_IO_TIMEOUT", 30*time.Second, &errs)
	cfg.SchedulerStopGrace = envDuration("HALCYON_SCHEDULER_STOP_GRACE", 5*time.Second, &errs)
	cfg.BusMailboxCapacity = envInt("HALCYON_BUS_MAILBOX_CAPACITY", 64, &errs)
	cfg.BusDiagnosticBudget = envInt("HALCYON_BUS_DIAGNOSTIC_BUDGET", 16, &errs)
	cfg.SeedFile = envStr("HALCYON_SEED_FILE", "")

	// --- Bounded logs ---
	cfg.AuditTrailCapacity = envInt("HALCYON_AUDIT_TRAIL_CAPACITY", 1000, &errs)
	cfg.AuditPersistTail = envInt("HALCYON_AUDIT_PERSIST_TAIL", 500, &errs)
	cfg.AccessLogCapacity = envInt("HALCYON_ACCESS_LOG_CAPACITY", 500, &errs)
	cfg.TimelineCapacity = envInt("HALCYON_TIMELINE_CAPACITY", 1000, &errs)
	cfg.AlertLogCapacity = envInt("HALCYON_ALERT_LOG_CAPACITY", 500, &errs)
	cfg.AnomalyLogCapacity = envInt("HALCYON_ANOMALY_LOG_CAPACITY", 500, &errs)
	cfg.DeliveryLogCapacity = envInt("HALCYON_DELIVERY_LOG_CAPACITY", 100, &errs)

	// --- Auth ---
	cfg.WebhookAdminToken = envStr("HALCYON_WEBHOOK_ADMIN_TOKEN", "")

	// --- Validation ---
	validatePositive("HALCYON_WEBHOOK_PORT", cfg.WebhookPort, &errs)
	if cfg.DeviceIOTimeout <= 0 {
		errs = append(errs, "HALCYON_DEVICE_IO_TIMEOUT must be positive")
	}
	if cfg.SchedulerStopGrace <= 0 {
		errs = append(errs, "HALCYON_SCHEDULER_STOP_GRACE must be positive")
	}
	validatePositive("HALCYON_BUS_MAILBOX_CAPACITY", cfg.BusMailboxCapacity, &errs)
	validatePositive("HALCYON_BUS_DIAGNOSTIC_BUDGET", cfg.BusDiagnosticBudget, &errs)
	validatePositive("HALCYON_AUDIT_TRAIL_CAPACITY", cfg.AuditTrailCapacity, &errs)
	validatePositive("HALCYON_AUDIT_PERSIST_TAIL", cfg.AuditPersistTail, &errs)
	validatePositive("HALCYON_ACCESS_LOG_CAPACITY", cfg.AccessLogCapacity, &errs)
	validatePositive("HALCYON_TIMELINE_CAPACITY", cfg.TimelineCapacity, &errs)
	validatePositive("HALCYON_ALERT_LOG_CAPACITY", cfg.AlertLogCapacity, &errs)
	validatePositive("HALCYON_ANOMALY_LOG_CAPACITY", cfg.AnomalyLogCapacity, &errs)
	validatePositive("HALCYON_DELIVERY_LOG_CAPACITY", cfg.DeliveryLogCapacity, &errs)
	if cfg.AuditPersistTail > cfg.AuditTrailCapacity {
		errs = append(errs, "HALCYON_AUDIT_PERSIST_TAIL must not exceed HALCYON_AUDIT_TRAIL_CAPACITY")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePositive(key string, val int, errs *[]string) {
	if val <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be positive", key))
	}
}
