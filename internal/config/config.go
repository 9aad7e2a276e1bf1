package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"transit-assigner/internal/assign"
)

type Config struct {
	DatabaseURL string
	NATSURL     string

	// NATS subjects: incoming raw positions, outgoing stop events and
	// projected fixes.
	PositionSubject string
	EventSubject    string
	FixSubject      string

	Location     *time.Location
	DayStartHour int

	Tunables        assign.Tunables
	ManualOverrides []assign.ManualOverride

	LogNATSSubjects bool
	MetricsAddr     string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		if db == "" {
			return nil, errors.New("PGDATABASE or DATABASE_URL must be set")
		}
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.PositionSubject = getenvDefault("POSITION_SUBJECT", "vehicles.positions")
	cfg.EventSubject = getenvDefault("EVENT_SUBJECT", "vehicles.stop_events")
	cfg.FixSubject = getenvDefault("FIX_SUBJECT", "vehicles.projected")

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	// Hour at which a service day rolls over (overnight blocks belong to
	// the previous calendar date before this hour)
	cfg.DayStartHour = 4
	if v := os.Getenv("DAY_START_HOUR"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h < 0 || h > 12 {
			return nil, fmt.Errorf("invalid DAY_START_HOUR: %q", v)
		}
		cfg.DayStartHour = h
	}

	t := assign.DefaultTunables()
	var err error
	if t.WindowMillis, err = envMillis("WINDOW_SEC", t.WindowMillis); err != nil {
		return nil, err
	}
	if t.EvalIntervalMillis, err = envMillis("EVAL_INTERVAL_SEC", t.EvalIntervalMillis); err != nil {
		return nil, err
	}
	cutoff, err := envMillis("CANDIDATE_CUTOFF_SEC", int64(t.CandidateCutoffMillis))
	if err != nil {
		return nil, err
	}
	t.CandidateCutoffMillis = float64(cutoff)
	if t.ConfidenceMargin, err = envFloat("CONFIDENCE_MARGIN", t.ConfidenceMargin); err != nil {
		return nil, err
	}
	if t.ManualConfidenceFloor, err = envFloat("MANUAL_CONFIDENCE_FLOOR", t.ManualConfidenceFloor); err != nil {
		return nil, err
	}
	if t.BacktrackKm, err = envFloat("BACKTRACK_KM", t.BacktrackKm); err != nil {
		return nil, err
	}
	if t.StopThresholdKm, err = envFloat("STOP_THRESHOLD_KM", t.StopThresholdKm); err != nil {
		return nil, err
	}
	cfg.Tunables = t

	// Manual block overrides: "veh1:blockA|blockB,veh2:blockC"
	if v := os.Getenv("MANUAL_OVERRIDES"); v != "" {
		cfg.ManualOverrides, err = parseOverrides(v)
		if err != nil {
			return nil, err
		}
	}

	// Debug logging for NATS publish subjects
	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			cfg.LogNATSSubjects = true
		default:
			cfg.LogNATSSubjects = false
		}
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	return cfg, nil
}

func parseOverrides(raw string) ([]assign.ManualOverride, error) {
	var out []assign.ManualOverride
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		vehicle, blocks, ok := strings.Cut(entry, ":")
		if !ok || vehicle == "" || blocks == "" {
			return nil, fmt.Errorf("invalid MANUAL_OVERRIDES entry: %q", entry)
		}
		o := assign.ManualOverride{VehicleID: strings.TrimSpace(vehicle)}
		for _, b := range strings.Split(blocks, "|") {
			if b = strings.TrimSpace(b); b != "" {
				o.BlockIDs = append(o.BlockIDs, b)
			}
		}
		if len(o.BlockIDs) == 0 {
			return nil, fmt.Errorf("invalid MANUAL_OVERRIDES entry: %q", entry)
		}
		out = append(out, o)
	}
	return out, nil
}

func envMillis(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return int64(sec) * 1000, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
