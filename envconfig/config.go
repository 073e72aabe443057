// config.go - Konfiguration ueber Umgebungsvariablen
//
// Dieses Modul enthaelt:
// - CacheDir: Verzeichnis des Latent-Caches (LATENTFLOW_CACHE)
// - CheckpointFile: Pfad des Checkpoints (LATENTFLOW_CHECKPOINT)
// - PairsFile: Pfad des Pair-Caches (LATENTFLOW_PAIRS)
// - MetricsFile: Pfad der Metrik-Datenbank (LATENTFLOW_METRICS)
// - CacheWorkers: Groesse des Encode-Pools (LATENTFLOW_CACHE_WORKERS)
// - LogLevel: Log-Level (LATENTFLOW_DEBUG)
// - AsMap: alle Variablen mit Beschreibung fuer die CLI-Hilfe
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Var liest eine Umgebungsvariable und entfernt Quotes und Whitespace
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// String gibt eine Funktion zurueck, die einen String mit Default liest
func String(key, defaultValue string) func() string {
	return func() string {
		if s := Var(key); s != "" {
			return s
		}
		return defaultValue
	}
}

// Uint gibt eine Funktion zurueck, die einen uint mit Default liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

var (
	// CacheDir ist das Verzeichnis des Latent-Caches
	// Konfigurierbar via LATENTFLOW_CACHE, Default: dataset_cache
	CacheDir = String("LATENTFLOW_CACHE", "dataset_cache")

	// CheckpointFile ist der Pfad des Trainings-Checkpoints
	// Konfigurierbar via LATENTFLOW_CHECKPOINT, Default: checkpoints/latest.ckpt
	CheckpointFile = String("LATENTFLOW_CHECKPOINT", "checkpoints/latest.ckpt")

	// PairsFile ist der Pfad des Pair-Caches (JSON oder Legacy-.pkl)
	// Konfigurierbar via LATENTFLOW_PAIRS, Default: pairs.json
	PairsFile = String("LATENTFLOW_PAIRS", "pairs.json")

	// MetricsFile ist der Pfad der SQLite-Metrik-Datenbank
	// Konfigurierbar via LATENTFLOW_METRICS, leer = keine Metriken
	MetricsFile = String("LATENTFLOW_METRICS", "")

	// CacheWorkers begrenzt den Encode-Pool beim Cache-Aufbau
	// Konfigurierbar via LATENTFLOW_CACHE_WORKERS, 0 = GOMAXPROCS
	CacheWorkers = Uint("LATENTFLOW_CACHE_WORKERS", 0)
)

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via LATENTFLOW_DEBUG (bool oder Level-Zahl)
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("LATENTFLOW_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"LATENTFLOW_DEBUG":         {"LATENTFLOW_DEBUG", LogLevel(), "Show additional debug information (e.g. LATENTFLOW_DEBUG=1)"},
		"LATENTFLOW_CACHE":         {"LATENTFLOW_CACHE", CacheDir(), "Directory holding the encoded latent cache (default \"dataset_cache\")"},
		"LATENTFLOW_CHECKPOINT":    {"LATENTFLOW_CHECKPOINT", CheckpointFile(), "Path of the training checkpoint (default \"checkpoints/latest.ckpt\")"},
		"LATENTFLOW_PAIRS":         {"LATENTFLOW_PAIRS", PairsFile(), "Path of the text-image pair cache (default \"pairs.json\")"},
		"LATENTFLOW_METRICS":       {"LATENTFLOW_METRICS", MetricsFile(), "Path of the SQLite step-metrics database (empty disables)"},
		"LATENTFLOW_CACHE_WORKERS": {"LATENTFLOW_CACHE_WORKERS", CacheWorkers(), "Number of parallel encode workers during cache build (0 = GOMAXPROCS)"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
