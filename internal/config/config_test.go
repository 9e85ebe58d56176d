package config

import "testing"

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadNodeAppliesDefaults(t *testing.T) {
	setEnv(t, map[string]string{
		"HIVE_URL":     "wss://hive.example.com",
		"HIVE_API_KEY": "secret",
		"NODE_NAME":    "laptop-1",
	})
	cfg, err := LoadNode()
	if err != nil {
		t.Fatalf("load node: %v", err)
	}
	if cfg.DataDir != "data/node.sqlite" {
		t.Errorf("data dir = %q, want default", cfg.DataDir)
	}
	if cfg.MaxConcurrentTasks != 4 {
		t.Errorf("max concurrent tasks = %d, want default 4", cfg.MaxConcurrentTasks)
	}
	if cfg.HeartbeatInterval.Seconds() != 30 {
		t.Errorf("heartbeat interval = %v, want 30s default", cfg.HeartbeatInterval)
	}
	if cfg.SyncInterval.Seconds() != 5 {
		t.Errorf("sync interval = %v, want 5s default", cfg.SyncInterval)
	}
}

func TestLoadNodeMissingRequiredFields(t *testing.T) {
	if _, err := LoadNode(); err == nil {
		t.Fatal("want error for missing HIVE_URL/HIVE_API_KEY/NODE_NAME")
	}
}

func TestLoadNodeRejectsNonPositiveConcurrency(t *testing.T) {
	setEnv(t, map[string]string{
		"HIVE_URL":                  "wss://hive.example.com",
		"HIVE_API_KEY":              "secret",
		"NODE_NAME":                 "laptop-1",
		"NODE_MAX_CONCURRENT_TASKS": "0",
	})
	if _, err := LoadNode(); err == nil {
		t.Fatal("want error for NODE_MAX_CONCURRENT_TASKS=0")
	}
}

func TestLoadHiveRequiresDatabaseURL(t *testing.T) {
	if _, err := LoadHive(); err == nil {
		t.Fatal("want error for missing HIVE_DATABASE_URL")
	}

	setEnv(t, map[string]string{"HIVE_DATABASE_URL": "postgres://localhost/hive"})
	cfg, err := LoadHive()
	if err != nil {
		t.Fatalf("load hive: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("addr = %q, want default:8080", cfg.Addr)
	}
}
