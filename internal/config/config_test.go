package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	for _, key := range []string{"PAGEGRAB_CONFIG", "PAGEGRAB_ENDPOINT", "PAGEGRAB_DRIVER", "PAGEGRAB_MODE", "PAGEGRAB_URL", "PAGEGRAB_TIMEOUT", "PAGEGRAB_STORAGE_STATE"} {
		t.Setenv(key, "")
	}
	return dir
}

func writeConfig(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const sample = `
endpoint = "127.0.0.1:9333"
driver = "chromedp"
mode = "login"
url = "https://portal.example.com/home"
timeout = "45s"
storage_state = "state/portal.json"

[wait]
selector = "#grades"
state = "visible"
load_state = "networkidle"
timeout = "10s"

[extract]
selector = "main"
format = "json"

[[login.steps]]
action = "click"
locator = "text=Sign in"

[[login.steps]]
action = "fill"
locator = "label=Email"
value = "student@example.com"

[[login.steps]]
action = "fill"
locator = "label=Password"
value_env = "PORTAL_PASSWORD"

[[login.steps]]
action = "Click"
locator = "role=button:Log in"
`

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, "", cfg.Path)
	require.Equal(t, "http://127.0.0.1:9222", cfg.Endpoint)
	require.Equal(t, DriverPlaywright, cfg.Driver)
	require.Equal(t, ModeScrape, cfg.Mode)
	require.Equal(t, 20*time.Second, cfg.Timeout)
	require.Equal(t, "body", cfg.Extract.Selector)
	require.Equal(t, FormatText, cfg.Extract.Format)
}

func TestLoadFile(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, sample)

	cfg, err := Load(Overrides{ConfigPath: path})
	require.NoError(t, err)
	require.Equal(t, path, cfg.Path)
	require.Equal(t, "127.0.0.1:9333", cfg.Endpoint)
	require.Equal(t, DriverChromedp, cfg.Driver)
	require.Equal(t, ModeLogin, cfg.Mode)
	require.Equal(t, "https://portal.example.com/home", cfg.URL)
	require.Equal(t, 45*time.Second, cfg.Timeout)
	require.Equal(t, "state/portal.json", cfg.StorageState)
	require.Equal(t, Wait{Selector: "#grades", State: "visible", LoadState: "networkidle", Timeout: 10 * time.Second}, cfg.Wait)
	require.Equal(t, Extract{Selector: "main", Format: FormatJSON}, cfg.Extract)
	require.Len(t, cfg.Login, 4)
	require.Equal(t, LoginStep{Action: ActionFill, Locator: "label=Password", ValueEnv: "PORTAL_PASSWORD"}, cfg.Login[2])
	require.Equal(t, ActionClick, cfg.Login[3].Action)
}

func TestLoadFromUserConfigDir(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pagegrab"), 0o755))
	path := filepath.Join(dir, "pagegrab", "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`url = "https://example.com"`), 0o644))

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, path, cfg.Path)
	require.Equal(t, "https://example.com", cfg.URL)
}

func TestLoadPrecedence(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, sample)
	t.Setenv("PAGEGRAB_CONFIG", path)
	t.Setenv("PAGEGRAB_ENDPOINT", "127.0.0.1:9444")
	t.Setenv("PAGEGRAB_MODE", "scrape")
	t.Setenv("PAGEGRAB_TIMEOUT", "5s")
	t.Setenv("PAGEGRAB_STORAGE_STATE", "env.json")

	cfg, err := Load(Overrides{Driver: "playwright", Timeout: "7s", Format: "text", Selector: "#content"})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9444", cfg.Endpoint)
	require.Equal(t, ModeScrape, cfg.Mode)
	require.Equal(t, DriverPlaywright, cfg.Driver)
	require.Equal(t, 7*time.Second, cfg.Timeout)
	require.Equal(t, "#content", cfg.Extract.Selector)
	require.Equal(t, FormatText, cfg.Extract.Format)
	require.Equal(t, "env.json", cfg.StorageState)

	cfg, err = Load(Overrides{State: "flag.json"})
	require.NoError(t, err)
	require.Equal(t, "flag.json", cfg.StorageState)
}

func TestLoadProvider(t *testing.T) {
	isolate(t)
	for _, name := range []string{"auto", "gemini", "openai"} {
		cfg, err := Load(Overrides{Provider: name})
		require.NoError(t, err, name)
		require.Equal(t, name, cfg.Extract.Provider)
	}
	_, err := Load(Overrides{Provider: "bard"})
	require.ErrorContains(t, err, "unknown prompt provider")
}

func TestLoadErrors(t *testing.T) {
	dir := isolate(t)
	tests := []struct {
		name      string
		body      string
		overrides Overrides
	}{
		{name: "bad driver", overrides: Overrides{Driver: "selenium"}},
		{name: "bad mode", overrides: Overrides{Mode: "crawl"}},
		{name: "bad format", overrides: Overrides{Format: "pdf"}},
		{name: "bad provider", overrides: Overrides{Provider: "bard"}},
		{name: "bad provider in file", body: "[extract]\nprovider = \"bard\""},
		{name: "bad timeout", overrides: Overrides{Timeout: "soon"}},
		{name: "bad endpoint", overrides: Overrides{Endpoint: "localhost"}},
		{name: "bad toml", body: `endpoint = `},
		{name: "bad wait state", body: "[wait]\nselector = \"#x\"\nstate = \"shown\""},
		{name: "bad load state", body: "[wait]\nload_state = \"idle\""},
		{name: "bad action", body: "[[login.steps]]\naction = \"hover\"\nlocator = \"text=Menu\""},
		{name: "empty locator", body: "[[login.steps]]\naction = \"click\"\nlocator = \"\""},
		{name: "value and env", body: "[[login.steps]]\naction = \"fill\"\nlocator = \"label=Email\"\nvalue = \"a\"\nvalue_env = \"B\""},
		{name: "login without steps", body: `mode = "login"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.overrides
			if tt.body != "" {
				o.ConfigPath = writeConfig(t, dir, tt.body)
			}
			_, err := Load(o)
			require.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	dir := isolate(t)
	_, err := Load(Overrides{ConfigPath: filepath.Join(dir, "nope.toml")})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolveValue(t *testing.T) {
	env := map[string]string{"PORTAL_PASSWORD": "hunter2"}
	getenv := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	v, err := LoginStep{Action: ActionFill, Value: "literal"}.ResolveValue(getenv)
	require.NoError(t, err)
	require.Equal(t, "literal", v)

	v, err = LoginStep{Action: ActionFill, ValueEnv: "PORTAL_PASSWORD"}.ResolveValue(getenv)
	require.NoError(t, err)
	require.Equal(t, "hunter2", v)

	_, err = LoginStep{Action: ActionFill, ValueEnv: "MISSING"}.ResolveValue(getenv)
	require.ErrorIs(t, err, ErrMissingEnv)
}
