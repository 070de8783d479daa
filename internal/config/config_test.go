package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Location().String() != "Europe/Madrid" {
		t.Fatalf("unexpected timezone %s", cfg.Location())
	}
	if got := cfg.SLATable().SLAWorkdays("Tenerife"); got != 20 {
		t.Fatalf("expected builtin canary budget, got %d", got)
	}
	if len(cfg.Queue.ActiveStatuses) != 4 {
		t.Fatalf("unexpected active statuses %v", cfg.Queue.ActiveStatuses)
	}
}

func TestFromYAMLOverrides(t *testing.T) {
	cfg, err := FromYAML([]byte(`
calendar:
  timezone: Atlantic/Canary
sla:
  regions:
    costa brava:
      total_days: 8
      reception_days: 2
      production_days: 4
      shipping_days: 2
queue:
  active_statuses: [pending, in_production]
`))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Location().String() != "Atlantic/Canary" {
		t.Fatalf("timezone not applied: %s", cfg.Location())
	}
	if got := cfg.SLATable().SLAWorkdays("Costa Brava"); got != 8 {
		t.Fatalf("override not applied: %d", got)
	}
	if len(cfg.Queue.ActiveStatuses) != 2 {
		t.Fatalf("statuses not replaced: %v", cfg.Queue.ActiveStatuses)
	}
	if cfg.Server.BasePath != "/v0" || cfg.Logging.Level != "info" {
		t.Fatalf("defaults lost: %+v", cfg.Server)
	}
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"timezone":       "calendar:\n  timezone: Mars/Olympus\n",
		"sla sum":        "sla:\n  regions:\n    PENINSULA: {total_days: 9, reception_days: 2, production_days: 5, shipping_days: 3}\n",
		"unknown status": "queue:\n  active_statuses: [pending, waiting]\n",
		"terminal":       "queue:\n  active_statuses: [pending, shipped]\n",
		"base path":      "server:\n  base_path: v0\n",
		"syntax":         "calendar: [",
		"webhook url":    "webhooks:\n  - url: ftp://hooks.local/x\n",
		"webhook time":   "webhooks:\n  - url: http://hooks.local/x\n    timeout_seconds: -1\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestFromYAMLWebhooks(t *testing.T) {
	cfg, err := FromYAML([]byte(`
webhooks:
  - url: https://hooks.local/queue
    events: [work_order.status]
    secret: s3cret
    enabled: false
`))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if len(cfg.Webhooks) != 1 {
		t.Fatalf("expected one webhook, got %+v", cfg.Webhooks)
	}
	hook := cfg.Webhooks[0]
	if hook.Secret != "s3cret" || hook.Enabled == nil || *hook.Enabled || hook.Events[0] != "work_order.status" {
		t.Fatalf("unexpected webhook %+v", hook)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Calendar.Timezone != "Europe/Madrid" {
		t.Fatalf("expected default config, got %+v", cfg.Calendar)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "maincontrol.yml"), []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level not read: %s", cfg.Logging.Level)
	}
}
