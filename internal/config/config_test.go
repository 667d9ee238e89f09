package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// baseConfig is the smallest document that passes validation.
const baseConfig = `
[[routes]]
id = "route1"
path = "route1/*"
cluster = "cluster1"

[clusters.cluster1]
address = "http://localhost:5234"
`

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[upstream]
idle_connections = 50
dial_timeout = "5s"

[log]
level = "debug"
format = "text"

[[routes]]
id = "route1"
path = "route1/*"
cluster = "cluster1"

[[routes]]
id = "route2"
path = "/route2/{**catch-all}"
cluster = "cluster2"
timeout = "00:00:10"
strip_prefix = true

[clusters.cluster1]
address = "http://localhost:5234"
activity_timeout = "00:00:10"

[clusters.cluster2]
address = "https://backend.internal:8443/base"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Upstream.IdleConnections != 50 {
		t.Errorf("Upstream.IdleConnections = %d, want %d", cfg.Upstream.IdleConnections, 50)
	}
	if got := cfg.Upstream.DialTimeout.Std(); got != 5*time.Second {
		t.Errorf("Upstream.DialTimeout = %v, want %v", got, 5*time.Second)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if len(cfg.Routes) != 2 {
		t.Fatalf("len(Routes) = %d, want 2", len(cfg.Routes))
	}
	r2 := cfg.Routes[1]
	if r2.ID != "route2" || r2.Cluster != "cluster2" {
		t.Errorf("Routes[1] = %+v, want route2 -> cluster2", r2)
	}
	if got := r2.Timeout.Std(); got != 10*time.Second {
		t.Errorf("Routes[1].Timeout = %v, want %v", got, 10*time.Second)
	}
	if !r2.StripPrefix {
		t.Error("Routes[1].StripPrefix = false, want true")
	}
	if cfg.Routes[0].Timeout != 0 {
		t.Errorf("Routes[0].Timeout = %v, want 0", cfg.Routes[0].Timeout.Std())
	}

	if got := cfg.Clusters["cluster1"].ActivityTimeout.Std(); got != 10*time.Second {
		t.Errorf("cluster1 ActivityTimeout = %v, want %v", got, 10*time.Second)
	}
	if got := cfg.Clusters["cluster2"].ActivityTimeout; got != 0 {
		t.Errorf("cluster2 ActivityTimeout = %v, want 0", got.Std())
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, baseConfig)))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Upstream.IdleConnections != 100 {
		t.Errorf("Upstream.IdleConnections = %d, want %d", cfg.Upstream.IdleConnections, 100)
	}
	if got := cfg.Upstream.DialTimeout.Std(); got != 30*time.Second {
		t.Errorf("Upstream.DialTimeout = %v, want %v", got, 30*time.Second)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, "[server\nport = 1")))
	if err == nil {
		t.Fatal("Load() expected error for malformed TOML, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000

[log]
level = "info"
`+baseConfig)

	cli := &CLI{
		Config:   path,
		Host:     "0.0.0.0",
		Port:     7777,
		LogLevel: "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want CLI override %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want CLI override %d", cfg.Server.Port, 7777)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want CLI override %q", cfg.Log.Level, "debug")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "negative port",
			data:    "[server]\nport = -1\n" + baseConfig,
			wantErr: "server.port",
		},
		{
			name:    "negative body_max_bytes",
			data:    "[server]\nbody_max_bytes = -1\n" + baseConfig,
			wantErr: "body_max_bytes",
		},
		{
			name:    "negative dial_timeout",
			data:    "[upstream]\ndial_timeout = \"-1s\"\n" + baseConfig,
			wantErr: "dial_timeout",
		},
		{
			name:    "invalid log level",
			data:    "[log]\nlevel = \"verbose\"\n" + baseConfig,
			wantErr: "log.level",
		},
		{
			name:    "invalid log format",
			data:    "[log]\nformat = \"xml\"\n" + baseConfig,
			wantErr: "log.format",
		},
		{
			name:    "rate limit without rps",
			data:    "[server.rate_limit]\nenabled = true\n" + baseConfig,
			wantErr: "requests_per_second",
		},
		{
			name: "no clusters",
			data: `
[[routes]]
id = "route1"
path = "/route1"
cluster = "cluster1"
`,
			wantErr: "clusters",
		},
		{
			name: "no routes",
			data: `
[clusters.cluster1]
address = "http://localhost:5234"
`,
			wantErr: "routes",
		},
		{
			name: "route references unknown cluster",
			data: `
[[routes]]
id = "route1"
path = "/route1"
cluster = "missing"

[clusters.cluster1]
address = "http://localhost:5234"
`,
			wantErr: `unknown cluster "missing"`,
		},
		{
			name: "route without path",
			data: `
[[routes]]
id = "route1"
cluster = "cluster1"

[clusters.cluster1]
address = "http://localhost:5234"
`,
			wantErr: "routes[0]",
		},
		{
			name: "duplicate route id",
			data: baseConfig + `
[[routes]]
id = "route1"
path = "/other"
cluster = "cluster1"
`,
			wantErr: "duplicate route id",
		},
		{
			name: "negative route timeout",
			data: `
[[routes]]
id = "route1"
path = "/route1"
cluster = "cluster1"
timeout = "-5s"

[clusters.cluster1]
address = "http://localhost:5234"
`,
			wantErr: "routes[0]",
		},
		{
			name: "bad route timeout syntax",
			data: `
[[routes]]
id = "route1"
path = "/route1"
cluster = "cluster1"
timeout = "ten seconds"

[clusters.cluster1]
address = "http://localhost:5234"
`,
			wantErr: "invalid duration",
		},
		{
			name: "cluster without address",
			data: `
[[routes]]
id = "route1"
path = "/route1"
cluster = "cluster1"

[clusters.cluster1]
activity_timeout = "10s"
`,
			wantErr: "clusters.cluster1",
		},
		{
			name: "cluster with non-http address",
			data: `
[[routes]]
id = "route1"
path = "/route1"
cluster = "cluster1"

[clusters.cluster1]
address = "ftp://files.example.com"
`,
			wantErr: "http or https",
		},
		{
			name: "cluster with negative activity timeout",
			data: `
[[routes]]
id = "route1"
path = "/route1"
cluster = "cluster1"

[clusters.cluster1]
address = "http://localhost:5234"
activity_timeout = "-10s"
`,
			wantErr: "clusters.cluster1",
		},
		{
			name: "route timeout that is not a number",
			data: `
[[routes]]
id = "route1"
path = "/route1"
cluster = "cluster1"
timeout = "00:00:NaN"

[clusters.cluster1]
address = "http://localhost:5234"
`,
			wantErr: "bad seconds",
		},
		{
			name: "activity timeout beyond the duration range",
			data: `
[[routes]]
id = "route1"
path = "/route1"
cluster = "cluster1"

[clusters.cluster1]
address = "http://localhost:5234"
activity_timeout = "106751.23:59:59"
`,
			wantErr: "out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatalf("Load() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 25.5
`+baseConfig)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("RateLimit.Enabled = false, want true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 25.5 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 25.5", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_MetricsPath(t *testing.T) {
	tests := []struct {
		name    string
		metrics string
		wantErr bool
	}{
		{"custom path", "[metrics]\nenabled = true\npath = \"/internal/metrics\"\n", false},
		{"no leading slash", "[metrics]\nenabled = true\npath = \"metrics\"\n", true},
		{"conflicts with healthz", "[metrics]\nenabled = true\npath = \"/healthz\"\n", true},
		{"nested under status", "[metrics]\nenabled = true\npath = \"/proxy/status/m\"\n", true},
		{"disabled skips validation", "[metrics]\nenabled = false\npath = \"metrics\"\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.metrics+baseConfig)))
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ClusterIDsSorted(t *testing.T) {
	cfg := &Config{Clusters: map[string]ClusterConfig{
		"zeta":  {Address: "http://z"},
		"alpha": {Address: "http://a"},
		"mid":   {Address: "http://m"},
	}}

	got := strings.Join(cfg.ClusterIDs(), ",")
	if got != "alpha,mid,zeta" {
		t.Errorf("ClusterIDs() = %q, want %q", got, "alpha,mid,zeta")
	}
}

func TestWarnPermissions_Writable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "writable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_ReadOnlyForOthers(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0644 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	path1 := filepath.Join(dir1, "config.toml")
	path2 := filepath.Join(dir2, "config.toml")
	for _, p := range []string{path1, path2} {
		if err := os.WriteFile(p, []byte(baseConfig), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"first existing wins", []string{path1, path2}, path1},
		{"skips missing", []string{"/nonexistent/a.toml", path2}, path2},
		{"none found", []string{"/nonexistent/a.toml", "/nonexistent/b.toml"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findConfigInPaths(tt.paths); got != tt.want {
				t.Errorf("findConfigInPaths() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := ServerConfig{Host: "127.0.0.1", Port: 8080}
	if got := sc.Addr(); got != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q, want %q", got, "127.0.0.1:8080")
	}
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load(cliWithPath(filepath.Join("..", "..", "configs", "config.toml")))
	if err != nil {
		t.Fatalf("Load(sample) error = %v", err)
	}
	if len(cfg.Routes) != 2 {
		t.Fatalf("len(Routes) = %d, want 2", len(cfg.Routes))
	}
	if got := cfg.Routes[1].Timeout.Std(); got != 10*time.Second {
		t.Errorf("route2 timeout = %v, want %v", got, 10*time.Second)
	}
	if got := cfg.Clusters["cluster1"].ActivityTimeout.Std(); got != 10*time.Second {
		t.Errorf("cluster1 activity timeout = %v, want %v", got, 10*time.Second)
	}
}
