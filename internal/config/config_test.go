package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.Addr != ":8080" {
		t.Errorf("api.addr = %q, want :8080", cfg.API.Addr)
	}
	if !cfg.Quota.Enforce {
		t.Error("quota.enforce should default to true")
	}
	if cfg.Quota.DefaultDaily != 10 {
		t.Errorf("quota.default_daily = %d, want 10", cfg.Quota.DefaultDaily)
	}
	if len(cfg.API.AllowedOrigins) != 1 || cfg.API.AllowedOrigins[0] != "*" {
		t.Errorf("api.allowed_origins = %v, want [*]", cfg.API.AllowedOrigins)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("JEXAGENT_QUOTA_ENFORCE", "false")
	t.Setenv("JEXAGENT_API_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Quota.Enforce {
		t.Error("quota.enforce should be overridden to false")
	}
	if cfg.API.Addr != ":9090" {
		t.Errorf("api.addr = %q, want :9090", cfg.API.Addr)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"zero daily quota", func(c *Config) { c.Quota.DefaultDaily = 0 }, true},
		{"negative daily quota", func(c *Config) { c.Quota.DefaultDaily = -1 }, true},
		{"empty origins", func(c *Config) { c.API.AllowedOrigins = nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				API:   APIConfig{Addr: ":8080", AllowedOrigins: []string{"*"}},
				Quota: QuotaConfig{Enforce: true, DefaultDaily: 10},
			}
			tt.mutate(&cfg)
			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
