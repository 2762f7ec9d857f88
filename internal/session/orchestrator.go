// Package session runs the one straight-line sequence this tool knows:
// probe the debugging endpoint, attach, optionally log in, wait for the page
// to settle, then extract its visible text.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/patrickjm/pagegrab/internal/browser"
	"github.com/patrickjm/pagegrab/internal/extract"
)

type Mode string

const (
	ModeScrape Mode = "scrape"
	ModeLogin  Mode = "login"
)

type Action string

const (
	ActionFill  Action = "fill"
	ActionClick Action = "click"
)

type Step struct {
	Action  Action
	Locator browser.Locator
	Value   string
}

func (s Step) String() string {
	return string(s.Action) + " " + s.Locator.String()
}

// Plan is everything a run needs, resolved ahead of time so the run itself
// has no decisions left to make.
type Plan struct {
	Mode     Mode
	Endpoint string
	URL      string
	Timeout  time.Duration
	Steps    []Step
	Wait     browser.Condition
	Selector string
	Prompts  bool
	Provider string
	// StatePath names a storage-state file: restored before a scrape when it
	// exists, written after a successful login.
	StatePath string
}

type Result struct {
	URL     string           `json:"url"`
	Title   string           `json:"title"`
	Text    string           `json:"text"`
	Prompts []extract.Prompt `json:"prompts,omitempty"`
}

type ProbeFunc func(ctx context.Context, endpoint string, timeout time.Duration) (browser.VersionInfo, error)

type Orchestrator struct {
	Engine browser.Engine
	Probe  ProbeFunc
	Logger *slog.Logger
}

func (o Orchestrator) Run(ctx context.Context, plan Plan) (Result, error) {
	log := o.logger()
	probe := o.Probe
	if probe == nil {
		probe = browser.Probe
	}

	info, err := probe(ctx, plan.Endpoint, plan.Timeout)
	if err != nil {
		return Result{}, err
	}
	log.Debug("endpoint reachable", "endpoint", plan.Endpoint, "browser", info.Browser)

	sess, err := o.Engine.Attach(ctx, browser.AttachOptions{
		Endpoint:     plan.Endpoint,
		WebSocketURL: info.WebSocketDebuggerURL,
		Timeout:      plan.Timeout,
	})
	if err != nil {
		return Result{}, fmt.Errorf("attach %s: %w", plan.Endpoint, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("detach", "err", err)
		}
	}()

	page, err := sess.Page()
	if err != nil {
		return Result{}, fmt.Errorf("open page: %w", err)
	}
	if err := page.SetTimeout(plan.Timeout); err != nil {
		return Result{}, err
	}

	if plan.Mode != ModeLogin && plan.StatePath != "" {
		if err := restoreState(log, sess, plan.StatePath); err != nil {
			return Result{}, err
		}
	}

	if plan.URL != "" {
		log.Debug("navigate", "url", plan.URL)
		if err := page.Goto(plan.URL); err != nil {
			return Result{}, fmt.Errorf("goto %s: %w", plan.URL, err)
		}
	}

	if plan.Mode == ModeLogin {
		if err := authenticate(log, page, plan.Steps); err != nil {
			return Result{}, err
		}
	}

	if !plan.Wait.IsZero() {
		log.Debug("wait", "selector", plan.Wait.Selector, "state", plan.Wait.State, "load_state", plan.Wait.LoadState)
		if err := page.WaitFor(plan.Wait); err != nil {
			return Result{}, err
		}
	}

	if plan.Mode == ModeLogin && plan.StatePath != "" {
		if err := sess.StorageState(plan.StatePath); err != nil {
			return Result{}, err
		}
		log.Info("saved storage state", "path", plan.StatePath)
	}

	return o.extract(page, plan)
}

func restoreState(log *slog.Logger, sess browser.Session, path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.Debug("no storage state yet", "path", path)
		return nil
	}
	if err := sess.RestoreState(path); err != nil {
		return fmt.Errorf("restore storage state: %w", err)
	}
	log.Debug("restored storage state", "path", path)
	return nil
}

func authenticate(log *slog.Logger, page browser.Page, steps []Step) error {
	for i, step := range steps {
		log.Debug("login step", "n", i+1, "step", step.String())
		var err error
		switch step.Action {
		case ActionFill:
			err = page.Fill(step.Locator, step.Value)
		case ActionClick:
			err = page.Click(step.Locator)
		default:
			err = errors.New("unknown action " + string(step.Action))
		}
		if err != nil {
			return fmt.Errorf("login step %d (%s): %w", i+1, step, err)
		}
	}
	return nil
}

func (o Orchestrator) extract(page browser.Page, plan Plan) (Result, error) {
	selector := plan.Selector
	if selector == "" {
		selector = "body"
	}
	markup, err := page.OuterHTML(selector)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", selector, err)
	}
	text, err := extract.ElementText(markup)
	if err != nil {
		return Result{}, err
	}
	url, err := page.URL()
	if err != nil {
		return Result{}, err
	}
	title, err := page.Title()
	if err != nil {
		return Result{}, err
	}
	result := Result{URL: url, Title: title, Text: text}
	if plan.Prompts {
		provider, err := resolveProvider(plan.Provider, url)
		if err != nil {
			return Result{}, err
		}
		prompts, err := extract.Prompts(markup, url, provider.Selectors)
		if err != nil {
			return Result{}, fmt.Errorf("%s prompts: %w", provider.Name, err)
		}
		result.Prompts = prompts
	}
	o.logger().Debug("extracted", "url", url, "chars", len(text), "prompts", len(result.Prompts))
	return result, nil
}

func resolveProvider(name string, url string) (extract.Provider, error) {
	if name == "" || name == "auto" {
		if p, ok := extract.ProviderFor(url); ok {
			return p, nil
		}
		return extract.Provider{}, fmt.Errorf("no prompt provider matches %s", url)
	}
	if p, ok := extract.ProviderByName(name); ok {
		return p, nil
	}
	return extract.Provider{}, fmt.Errorf("unknown prompt provider %q", name)
}

func (o Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
