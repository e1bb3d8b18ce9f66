package config

import (
	"encoding/json"
	"flag"
	"os"
	"strings"
)

type Config struct {
	Port      string `json:"port"`
	SchemaDir string `json:"schemaDir"` // *.dsl
	YAMLDir   string `json:"yamlDir"`   // yaml-каталоги схем (опционально)

	// Долговременное хранилище клиентской стороны
	StateDriver string `json:"stateDriver"` // "memory" (default) | "sqlite" | "postgres"
	SQLitePath  string `json:"sqlitePath"`
	DBURL       string `json:"dbUrl"`

	// Синхронизация с удалённым API
	RemoteURL string `json:"remoteUrl"` // пусто = без синхронизации
	SyncMode  string `json:"syncMode"`  // mirror | offline_queue | remote_fallback
	SyncRate  int    `json:"syncRate"`  // секунды
	RetryRate int    `json:"retryRate"` // секунды
}

func def() Config {
	return Config{
		Port:      "8080",
		SchemaDir: "schemas",
		YAMLDir:   "",

		StateDriver: "memory",
		SQLitePath:  "state.db",
		DBURL:       "",

		RemoteURL: "",
		SyncMode:  "mirror",
		SyncRate:  30,
		RetryRate: 10,
	}
}

func loadJSON(path string) (Config, error) {
	c := def()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// LoadWithPath читает JSON по указанному пути, потом применяет ENV и флаги.
func LoadWithPath(jsonPath string) Config {
	cfg := def()

	// JSON (если файл существует)
	if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
		if c2, err := loadJSON(jsonPath); err == nil {
			cfg = c2
		}
	}

	// ENV overrides
	cfg.Port = getenv("SKLAD_PORT", cfg.Port)
	cfg.SchemaDir = getenv("SKLAD_SCHEMA_DIR", cfg.SchemaDir)
	cfg.YAMLDir = getenv("SKLAD_YAML_DIR", cfg.YAMLDir)
	cfg.StateDriver = getenv("SKLAD_STATE_DRIVER", cfg.StateDriver)
	cfg.SQLitePath = getenv("SKLAD_SQLITE_PATH", cfg.SQLitePath)
	cfg.DBURL = getenv("SKLAD_DB_URL", cfg.DBURL)
	cfg.RemoteURL = getenv("SKLAD_REMOTE_URL", cfg.RemoteURL)
	cfg.SyncMode = getenv("SKLAD_SYNC_MODE", cfg.SyncMode)

	// Flags overrides
	configPath := flag.String("config", jsonPath, "Path to config JSON")
	port := flag.String("port", cfg.Port, "HTTP port")
	schemas := flag.String("schemas", cfg.SchemaDir, "Path to DSL schema directory")
	yamlDir := flag.String("yaml", cfg.YAMLDir, "Path to YAML schema directory (optional)")
	driver := flag.String("state-driver", cfg.StateDriver, "State driver (memory/sqlite/postgres)")
	sqlitePath := flag.String("sqlite", cfg.SQLitePath, "SQLite state file (if driver=sqlite)")
	db := flag.String("db", cfg.DBURL, "Postgres URL (if driver=postgres)")
	remote := flag.String("remote", cfg.RemoteURL, "Remote API base URL (empty = no sync)")
	mode := flag.String("sync-mode", cfg.SyncMode, "Sync mode (mirror/offline_queue/remote_fallback)")

	flag.Parse()

	// Если через флаг передали другой конфиг — перечитаем
	if *configPath != jsonPath {
		return LoadWithPath(*configPath)
	}

	cfg.Port = strings.TrimSpace(*port)
	cfg.SchemaDir = strings.TrimSpace(*schemas)
	cfg.YAMLDir = strings.TrimSpace(*yamlDir)
	cfg.StateDriver = strings.TrimSpace(*driver)
	cfg.SQLitePath = strings.TrimSpace(*sqlitePath)
	cfg.DBURL = strings.TrimSpace(*db)
	cfg.RemoteURL = strings.TrimSpace(*remote)
	cfg.SyncMode = strings.TrimSpace(*mode)

	return cfg
}
