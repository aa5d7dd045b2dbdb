package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr string

	// DB
	Env    string // "dev" | "prod"
	DBPath string // e.g. "./data/ipbeep.db"

	// Ledger documents, one per (course, session)
	LogDir string // e.g. "./logs"

	// Presence accrual
	ProbeInterface      string // wireless interface sampled for associated stations
	SamplePeriodSeconds int    // accrual cycle period; each observed cycle credits period/60 minutes

	// Face tracking
	FrameSkip           int // run matching on every Nth frame
	DownscaleFactor     int // downscale frames by this factor before matching
	CooldownSeconds     int // minimum gap between accepted repeat matches per student
	SaveIntervalSeconds int // ledger flushes are debounced to at most one per interval

	// Hand-off
	HandoffTimeoutSeconds int // bounded wait for a loop to release ledger ownership

	// Remote collaborator (session config + archival)
	RemoteBaseURL string
	SessionKey    string // remote config document key

	// Registration portal, run as a managed auxiliary process.
	// Empty disables portal management.
	PortalCommand []string
}

func FromEnv() Config {
	addr := getenvDefault("IPBEEP_HTTP_ADDR", ":8080")

	env := strings.ToLower(getenvDefault("IPBEEP_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	return Config{
		HTTPAddr: addr,
		Env:      env,
		DBPath:   getenvDefault("IPBEEP_DB_PATH", "./data/ipbeep.db"),
		LogDir:   getenvDefault("IPBEEP_LOG_DIR", "./logs"),

		ProbeInterface:      getenvDefault("IPBEEP_PROBE_IFACE", "wlan0"),
		SamplePeriodSeconds: getenvInt("IPBEEP_SAMPLE_PERIOD_S", 30),

		FrameSkip:           getenvInt("IPBEEP_FRAME_SKIP", 2),
		DownscaleFactor:     getenvInt("IPBEEP_DOWNSCALE", 3),
		CooldownSeconds:     getenvInt("IPBEEP_COOLDOWN_S", 5),
		SaveIntervalSeconds: getenvInt("IPBEEP_SAVE_INTERVAL_S", 5),

		HandoffTimeoutSeconds: getenvInt("IPBEEP_HANDOFF_TIMEOUT_S", 3),

		RemoteBaseURL: getenvDefault("IPBEEP_REMOTE_BASE_URL", ""),
		SessionKey:    getenvDefault("IPBEEP_SESSION_KEY", "details"),

		PortalCommand: splitFields(os.Getenv("IPBEEP_PORTAL_CMD")),
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func splitFields(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return strings.Fields(v)
}
