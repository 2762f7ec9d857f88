package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/patrickjm/pagegrab/internal/browser"
	"github.com/patrickjm/pagegrab/internal/extract"
)

var ErrMissingEnv = errors.New("environment variable not set")

const (
	DriverPlaywright = "playwright"
	DriverChromedp   = "chromedp"

	ModeScrape = "scrape"
	ModeLogin  = "login"

	FormatText    = "text"
	FormatJSON    = "json"
	FormatPrompts = "prompts"

	ActionFill  = "fill"
	ActionClick = "click"
)

type Config struct {
	Path     string
	Endpoint string
	Driver   string
	Mode     string
	URL      string
	Timeout  time.Duration
	// StorageState is a Playwright storage-state file: written after a
	// login, restored before a scrape.
	StorageState string
	Wait         Wait
	Extract      Extract
	Login        []LoginStep
}

type Wait struct {
	Selector  string
	State     string
	LoadState string
	Timeout   time.Duration
}

type Extract struct {
	Selector string
	Format   string
	Provider string
}

// LoginStep is one UI action of the login sequence. Secrets belong in
// ValueEnv, which names the environment variable holding the value.
type LoginStep struct {
	Action   string
	Locator  string
	Value    string
	ValueEnv string
}

type rawConfig struct {
	Endpoint string     `toml:"endpoint"`
	Driver   string     `toml:"driver"`
	Mode     string     `toml:"mode"`
	URL      string     `toml:"url"`
	Timeout  string     `toml:"timeout"`
	State    string     `toml:"storage_state"`
	Wait     rawWait    `toml:"wait"`
	Extract  rawExtract `toml:"extract"`
	Login    rawLogin   `toml:"login"`
}

type rawWait struct {
	Selector  string `toml:"selector"`
	State     string `toml:"state"`
	LoadState string `toml:"load_state"`
	Timeout   string `toml:"timeout"`
}

type rawExtract struct {
	Selector string `toml:"selector"`
	Format   string `toml:"format"`
	Provider string `toml:"provider"`
}

type rawLogin struct {
	Steps []rawStep `toml:"steps"`
}

type rawStep struct {
	Action   string `toml:"action"`
	Locator  string `toml:"locator"`
	Value    string `toml:"value"`
	ValueEnv string `toml:"value_env"`
}

// Overrides carries command-line values; empty fields leave the config alone.
type Overrides struct {
	ConfigPath string
	Endpoint   string
	Driver     string
	Mode       string
	URL        string
	Timeout    string
	State      string
	Selector   string
	Format     string
	Provider   string
}

func Default() Config {
	return Config{
		Endpoint: browser.DefaultEndpoint,
		Driver:   DriverPlaywright,
		Mode:     ModeScrape,
		Timeout:  20 * time.Second,
		Extract:  Extract{Selector: "body", Format: FormatText},
	}
}

// Load layers defaults, the config file, PAGEGRAB_* environment variables and
// overrides, in that order, then validates the result.
func Load(overrides Overrides) (Config, error) {
	cfg := Default()

	path, explicit := configPath(overrides.ConfigPath)
	if path != "" {
		if err := loadFile(&cfg, path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return Config{}, err
			}
		} else {
			cfg.Path = path
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := applyOverrides(&cfg, overrides); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func configPath(override string) (string, bool) {
	if strings.TrimSpace(override) != "" {
		return override, true
	}
	if v := strings.TrimSpace(os.Getenv("PAGEGRAB_CONFIG")); v != "" {
		return v, true
	}
	for _, path := range searchPaths() {
		if _, err := os.Stat(path); err == nil {
			return path, false
		}
	}
	return "", false
}

func searchPaths() []string {
	paths := []string{"pagegrab.toml"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "pagegrab", "config.toml"))
	}
	return paths
}

func loadFile(cfg *Config, path string) error {
	var raw rawConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	setString(&cfg.Endpoint, raw.Endpoint)
	setString(&cfg.Driver, raw.Driver)
	setString(&cfg.Mode, raw.Mode)
	setString(&cfg.URL, raw.URL)
	setString(&cfg.StorageState, raw.State)
	if err := setDuration(&cfg.Timeout, raw.Timeout, "timeout"); err != nil {
		return err
	}
	setString(&cfg.Wait.Selector, raw.Wait.Selector)
	setString(&cfg.Wait.State, raw.Wait.State)
	setString(&cfg.Wait.LoadState, raw.Wait.LoadState)
	if err := setDuration(&cfg.Wait.Timeout, raw.Wait.Timeout, "wait.timeout"); err != nil {
		return err
	}
	setString(&cfg.Extract.Selector, raw.Extract.Selector)
	setString(&cfg.Extract.Format, raw.Extract.Format)
	setString(&cfg.Extract.Provider, raw.Extract.Provider)
	for _, step := range raw.Login.Steps {
		cfg.Login = append(cfg.Login, LoginStep{
			Action:   strings.ToLower(strings.TrimSpace(step.Action)),
			Locator:  step.Locator,
			Value:    step.Value,
			ValueEnv: step.ValueEnv,
		})
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Endpoint, os.Getenv("PAGEGRAB_ENDPOINT"))
	setString(&cfg.Driver, os.Getenv("PAGEGRAB_DRIVER"))
	setString(&cfg.Mode, os.Getenv("PAGEGRAB_MODE"))
	setString(&cfg.URL, os.Getenv("PAGEGRAB_URL"))
	setString(&cfg.StorageState, os.Getenv("PAGEGRAB_STORAGE_STATE"))
	return setDuration(&cfg.Timeout, os.Getenv("PAGEGRAB_TIMEOUT"), "PAGEGRAB_TIMEOUT")
}

func applyOverrides(cfg *Config, o Overrides) error {
	setString(&cfg.Endpoint, o.Endpoint)
	setString(&cfg.Driver, o.Driver)
	setString(&cfg.Mode, o.Mode)
	setString(&cfg.URL, o.URL)
	setString(&cfg.StorageState, o.State)
	setString(&cfg.Extract.Selector, o.Selector)
	setString(&cfg.Extract.Format, o.Format)
	setString(&cfg.Extract.Provider, o.Provider)
	return setDuration(&cfg.Timeout, o.Timeout, "timeout")
}

func (c Config) Validate() error {
	switch c.Driver {
	case DriverPlaywright, DriverChromedp:
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	switch c.Mode {
	case ModeScrape, ModeLogin:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	switch c.Extract.Format {
	case FormatText, FormatJSON, FormatPrompts:
	default:
		return fmt.Errorf("unknown format %q", c.Extract.Format)
	}
	if p := c.Extract.Provider; p != "" && p != "auto" {
		if _, ok := extract.ProviderByName(p); !ok {
			return fmt.Errorf("unknown prompt provider %q", p)
		}
	}
	if _, err := browser.NormalizeEndpoint(c.Endpoint); err != nil {
		return err
	}
	if !browser.ValidState(c.Wait.State) {
		return fmt.Errorf("unknown wait state %q", c.Wait.State)
	}
	if !browser.ValidLoadState(c.Wait.LoadState) {
		return fmt.Errorf("unknown wait load_state %q", c.Wait.LoadState)
	}
	for i, step := range c.Login {
		if err := step.validate(); err != nil {
			return fmt.Errorf("login step %d: %w", i+1, err)
		}
	}
	if c.Mode == ModeLogin && len(c.Login) == 0 {
		return errors.New("login mode needs at least one [[login.steps]] entry")
	}
	return nil
}

func (s LoginStep) validate() error {
	if _, err := browser.ParseLocator(s.Locator); err != nil {
		return err
	}
	switch s.Action {
	case ActionClick:
		return nil
	case ActionFill:
		if s.Value != "" && s.ValueEnv != "" {
			return errors.New("set value or value_env, not both")
		}
		return nil
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
}

// ResolveValue returns the literal value or the content of ValueEnv, looked
// up with getenv.
func (s LoginStep) ResolveValue(getenv func(string) (string, bool)) (string, error) {
	if s.ValueEnv == "" {
		return s.Value, nil
	}
	v, ok := getenv(s.ValueEnv)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, s.ValueEnv)
	}
	return v, nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string, name string) error {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = d
	return nil
}
