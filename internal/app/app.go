package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/patrickjm/pagegrab/internal/browser"
	"github.com/patrickjm/pagegrab/internal/config"
	"github.com/patrickjm/pagegrab/internal/extract"
	"github.com/patrickjm/pagegrab/internal/session"
)

type GlobalFlags struct {
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
	JSON       bool
	Quiet      bool
	Verbose    bool
}

// App holds the process streams. Engine and Probe are nil outside of tests;
// the driver named in the config and browser.Probe are used then.
type App struct {
	In     io.Reader
	Out    io.Writer
	Err    io.Writer
	Engine browser.Engine
	Probe  session.ProbeFunc
	Getenv func(string) (string, bool)
}

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

const (
	modeScrape = config.ModeScrape
	modeLogin  = config.ModeLogin
)

func (a App) logger(flags GlobalFlags) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case flags.Verbose:
		level = slog.LevelDebug
	case flags.Quiet:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(a.Err, &slog.HandlerOptions{Level: level}))
}

func (a App) loadConfig(flags GlobalFlags, mode string) (config.Config, error) {
	if mode == "" {
		mode = flags.Mode
	}
	return config.Load(config.Overrides{
		ConfigPath: flags.ConfigPath,
		Endpoint:   flags.Endpoint,
		Driver:     flags.Driver,
		Mode:       mode,
		URL:        flags.URL,
		Timeout:    flags.Timeout,
		State:      flags.State,
		Selector:   flags.Selector,
		Format:     flags.Format,
		Provider:   flags.Provider,
	})
}

func (a App) engineFor(driver string) (browser.Engine, error) {
	if a.Engine != nil {
		return a.Engine, nil
	}
	switch driver {
	case config.DriverPlaywright:
		return browser.PlaywrightEngine{}, nil
	case config.DriverChromedp:
		return browser.ChromedpEngine{}, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
}

func (a App) lookupEnv() func(string) (string, bool) {
	if a.Getenv != nil {
		return a.Getenv
	}
	return os.LookupEnv
}

// buildPlan turns a validated config into a session plan. Login values are
// only resolved in login mode so a scrape never needs the secrets set.
func buildPlan(cfg config.Config, getenv func(string) (string, bool)) (session.Plan, error) {
	plan := session.Plan{
		Mode:     session.Mode(cfg.Mode),
		Endpoint: cfg.Endpoint,
		URL:      cfg.URL,
		Timeout:  cfg.Timeout,
		Wait: browser.Condition{
			Selector:  cfg.Wait.Selector,
			State:     cfg.Wait.State,
			LoadState: cfg.Wait.LoadState,
			Timeout:   cfg.Wait.Timeout,
		},
		Selector:  cfg.Extract.Selector,
		Prompts:   cfg.Extract.Format == config.FormatPrompts,
		Provider:  cfg.Extract.Provider,
		StatePath: cfg.StorageState,
	}
	if cfg.Mode != config.ModeLogin {
		return plan, nil
	}
	for i, step := range cfg.Login {
		loc, err := browser.ParseLocator(step.Locator)
		if err != nil {
			return session.Plan{}, fmt.Errorf("login step %d: %w", i+1, err)
		}
		value := ""
		if step.Action == config.ActionFill {
			value, err = step.ResolveValue(getenv)
			if err != nil {
				return session.Plan{}, fmt.Errorf("login step %d: %w", i+1, err)
			}
		}
		plan.Steps = append(plan.Steps, session.Step{Action: session.Action(step.Action), Locator: loc, Value: value})
	}
	return plan, nil
}

func (a App) runSession(ctx context.Context, flags GlobalFlags, mode string) int {
	cfg, err := a.loadConfig(flags, mode)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitUsage
	}
	plan, err := buildPlan(cfg, a.lookupEnv())
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitUsage
	}
	engine, err := a.engineFor(cfg.Driver)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitUsage
	}

	log := a.logger(flags)
	log.Debug("run", "mode", cfg.Mode, "driver", cfg.Driver, "endpoint", cfg.Endpoint, "config", cfg.Path)
	orch := session.Orchestrator{Engine: engine, Probe: a.Probe, Logger: log}
	result, err := orch.Run(ctx, plan)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}

	var buf bytes.Buffer
	switch {
	case flags.JSON || cfg.Extract.Format == config.FormatJSON:
		if err := writeJSON(&buf, result); err != nil {
			fmt.Fprintln(a.Err, err)
			return exitFailure
		}
	case cfg.Extract.Format == config.FormatPrompts:
		writePrompts(&buf, result.Prompts)
	default:
		buf.WriteString(result.Text)
		buf.WriteString("\n")
	}
	if _, err := a.Out.Write(buf.Bytes()); err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	return exitSuccess
}

func (a App) runText(flags GlobalFlags, path string) int {
	cfg, err := a.loadConfig(flags, "")
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitUsage
	}
	var data []byte
	if path == "" || path == "-" {
		data, err = io.ReadAll(a.In)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	markup := string(data)

	text, err := extract.VisibleText(markup)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	result := session.Result{URL: cfg.URL, Text: text}

	var buf bytes.Buffer
	switch {
	case cfg.Extract.Format == config.FormatPrompts:
		provider, err := textProvider(cfg)
		if err != nil {
			fmt.Fprintln(a.Err, err)
			return exitUsage
		}
		prompts, err := extract.Prompts(markup, cfg.URL, provider.Selectors)
		if err != nil {
			fmt.Fprintln(a.Err, err)
			return exitFailure
		}
		if flags.JSON {
			result.Prompts = prompts
			err = writeJSON(&buf, result)
		} else {
			writePrompts(&buf, prompts)
		}
		if err != nil {
			fmt.Fprintln(a.Err, err)
			return exitFailure
		}
	case flags.JSON || cfg.Extract.Format == config.FormatJSON:
		if err := writeJSON(&buf, result); err != nil {
			fmt.Fprintln(a.Err, err)
			return exitFailure
		}
	default:
		buf.WriteString(text)
		buf.WriteString("\n")
	}
	if _, err := a.Out.Write(buf.Bytes()); err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	return exitSuccess
}

// textProvider picks the prompt preset for offline input: by name, or by
// --url when the name is empty or auto.
func textProvider(cfg config.Config) (extract.Provider, error) {
	name := cfg.Extract.Provider
	if name != "" && name != "auto" {
		if p, ok := extract.ProviderByName(name); ok {
			return p, nil
		}
		return extract.Provider{}, fmt.Errorf("unknown prompt provider %q", name)
	}
	if p, ok := extract.ProviderFor(cfg.URL); ok {
		return p, nil
	}
	return extract.Provider{}, errors.New("prompts from a file need --provider or a matching --url")
}

func (a App) runProbe(ctx context.Context, flags GlobalFlags) int {
	cfg, err := a.loadConfig(flags, "")
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitUsage
	}
	info, err := a.probe()(ctx, cfg.Endpoint, cfg.Timeout)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	if flags.JSON {
		var buf bytes.Buffer
		if err := writeJSON(&buf, info); err != nil {
			fmt.Fprintln(a.Err, err)
			return exitFailure
		}
		_, _ = a.Out.Write(buf.Bytes())
		return exitSuccess
	}
	if flags.Quiet {
		return exitSuccess
	}
	fmt.Fprintf(a.Out, "browser=%s\n", info.Browser)
	fmt.Fprintf(a.Out, "protocol=%s\n", info.ProtocolVersion)
	fmt.Fprintf(a.Out, "websocket=%s\n", info.WebSocketDebuggerURL)
	return exitSuccess
}

func (a App) probe() session.ProbeFunc {
	if a.Probe != nil {
		return a.Probe
	}
	return browser.Probe
}

func (a App) runInstall(flags GlobalFlags, withBrowser bool) int {
	opts := &playwright.RunOptions{SkipInstallBrowsers: !withBrowser}
	if withBrowser {
		opts.Browsers = []string{"chromium"}
	}
	if err := playwright.Install(opts); err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	if !flags.Quiet {
		if withBrowser {
			fmt.Fprintln(a.Out, "Playwright installed: chromium")
		} else {
			fmt.Fprintln(a.Out, "Playwright driver installed")
		}
	}
	return exitSuccess
}

func (a App) runDoctor(ctx context.Context, flags GlobalFlags) int {
	type result struct {
		ConfigPath        string `json:"config_path"`
		ConfigError       string `json:"config_error,omitempty"`
		Endpoint          string `json:"endpoint"`
		EndpointReachable bool   `json:"endpoint_reachable"`
		Browser           string `json:"browser,omitempty"`
		Driver            string `json:"driver"`
		// PlaywrightOK is only set when the driver needs the Playwright runtime.
		PlaywrightOK *bool `json:"playwright_ok,omitempty"`
	}
	res := result{}
	cfg, err := a.loadConfig(flags, "")
	if err != nil {
		res.ConfigError = err.Error()
		cfg = config.Default()
		if flags.Endpoint != "" {
			cfg.Endpoint = flags.Endpoint
		}
		if flags.Driver != "" {
			cfg.Driver = flags.Driver
		}
	}
	res.ConfigPath = cfg.Path
	res.Endpoint = cfg.Endpoint
	res.Driver = cfg.Driver
	if info, err := a.probe()(ctx, cfg.Endpoint, 5*time.Second); err == nil {
		res.EndpointReachable = true
		res.Browser = info.Browser
	}
	if cfg.Driver == config.DriverPlaywright {
		ok := false
		if pw, err := playwright.Run(&playwright.RunOptions{SkipInstallBrowsers: true}); err == nil {
			ok = true
			_ = pw.Stop()
		}
		res.PlaywrightOK = &ok
	}

	if flags.JSON {
		b, _ := json.MarshalIndent(res, "", "  ")
		fmt.Fprintln(a.Out, string(b))
		return exitSuccess
	}
	fmt.Fprintf(a.Out, "config_path=%s\n", res.ConfigPath)
	if res.ConfigError != "" {
		fmt.Fprintf(a.Out, "config_error=%s\n", res.ConfigError)
	}
	fmt.Fprintf(a.Out, "endpoint=%s\n", res.Endpoint)
	fmt.Fprintf(a.Out, "endpoint_reachable=%t\n", res.EndpointReachable)
	if res.Browser != "" {
		fmt.Fprintf(a.Out, "browser=%s\n", res.Browser)
	}
	fmt.Fprintf(a.Out, "driver=%s\n", res.Driver)
	if res.PlaywrightOK != nil {
		fmt.Fprintf(a.Out, "playwright_ok=%t\n", *res.PlaywrightOK)
	}
	return exitSuccess
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

func writePrompts(w io.Writer, prompts []extract.Prompt) {
	groups := make([]string, 0, len(prompts))
	for _, p := range prompts {
		groups = append(groups, strings.Join(p.Content, "\n"))
	}
	if len(groups) == 0 {
		return
	}
	fmt.Fprintln(w, strings.Join(groups, "\n\n"))
}
