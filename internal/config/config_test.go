package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
db:
  dsn: postgres://docharvest:pw@localhost:5432/docharvest
  max_conns: 8
storage:
  root: /var/lib/docharvest
certificates:
  base_url: http://localhost:3999
  timeout_seconds: 5
harvest:
  allow_list: ["42", "77"]
  trigger_days: [1, 15]
  reprocess: true
schedule:
  cron: "0 6 * * *"
  instant: false
  download_interval_minutes: 2
portal:
  url: https://portal.example/consulta
  search_timeout_minutes: 3
  headless: false
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.DB.MaxConns != 8 || cfg.DB.MinConns != 1 {
		t.Fatalf("expected db pool overrides with defaults, got %+v", cfg.DB)
	}
	if len(cfg.Harvest.AllowList) != 2 || cfg.Harvest.AllowList[0] != "42" {
		t.Fatalf("expected allow list to be loaded: %+v", cfg.Harvest.AllowList)
	}
	if !cfg.Harvest.Reprocess {
		t.Fatalf("expected reprocess flag to be set")
	}
	if got := cfg.CertificateTimeout(); got != 5*time.Second {
		t.Fatalf("expected certificate timeout 5s, got %v", got)
	}

	sched := cfg.SchedulerConfig()
	if sched.CronSpec != "0 6 * * *" || sched.DownloadInterval != 2*time.Minute {
		t.Fatalf("expected scheduler config to map through, got %+v", sched)
	}
	if len(sched.Period.TriggerDays) != 2 || !sched.Period.Reprocess {
		t.Fatalf("expected planner config to map through, got %+v", sched.Period)
	}

	sess := cfg.SessionConfig()
	if sess.PortalURL != "https://portal.example/consulta" || sess.SearchTimeout != 3*time.Minute {
		t.Fatalf("expected session config to map through, got %+v", sess)
	}
	if sess.Headless {
		t.Fatalf("expected headless override to apply")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:       ServerConfig{Port: 8080},
		DB:           DBConfig{DSN: "postgres://localhost/docharvest"},
		Storage:      StorageConfig{Root: "/notes"},
		Certificates: CertificatesConfig{BaseURL: "http://localhost:3999"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "missing dsn",
			cfg: func() Config {
				c := base
				c.DB.DSN = ""
				return c
			}(),
			want: "db.dsn",
		},
		{
			name: "missing storage root",
			cfg: func() Config {
				c := base
				c.Storage.Root = ""
				return c
			}(),
			want: "storage.root",
		},
		{
			name: "missing provider url",
			cfg: func() Config {
				c := base
				c.Certificates.BaseURL = ""
				return c
			}(),
			want: "certificates.base_url",
		},
		{
			name: "half a range start",
			cfg: func() Config {
				c := base
				c.Harvest.YearStart = 2024
				return c
			}(),
			want: "must be set together",
		},
		{
			name: "range start without end",
			cfg: func() Config {
				c := base
				c.Harvest.YearStart = 2024
				c.Harvest.MonthStart = 1
				return c
			}(),
			want: "start and end",
		},
		{
			name: "trigger day out of range",
			cfg: func() Config {
				c := base
				c.Harvest.TriggerDays = []int{0}
				return c
			}(),
			want: "trigger_days",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateAcceptsFullRange(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:       ServerConfig{Port: 8080},
		DB:           DBConfig{DSN: "postgres://localhost/docharvest"},
		Storage:      StorageConfig{Root: "/notes"},
		Certificates: CertificatesConfig{BaseURL: "http://localhost:3999"},
		Harvest: HarvestConfig{
			YearStart:  2023,
			MonthStart: 11,
			YearEnd:    2024,
			MonthEnd:   2,
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
