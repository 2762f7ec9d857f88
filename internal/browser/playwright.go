package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

type PlaywrightEngine struct{}

func (p PlaywrightEngine) Attach(ctx context.Context, opts AttachOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	endpoint, err := NormalizeEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	pw, err := playwright.Run(&playwright.RunOptions{SkipInstallBrowsers: true})
	if err != nil {
		return nil, fmt.Errorf("start playwright driver: %w", err)
	}
	cdpOpts := playwright.BrowserTypeConnectOverCDPOptions{}
	if opts.Timeout > 0 {
		cdpOpts.Timeout = playwright.Float(float64(opts.Timeout.Milliseconds()))
	}
	browser, err := pw.Chromium.ConnectOverCDP(endpoint, cdpOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, err
	}
	return &playwrightSession{pw: pw, browser: browser}, nil
}

type playwrightSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

// Page returns the first page of the first existing context so that cookies
// from an earlier manual login are reused.
func (s *playwrightSession) Page() (Page, error) {
	bctx, err := s.context()
	if err != nil {
		return nil, err
	}
	if pages := bctx.Pages(); len(pages) > 0 {
		return &playwrightPage{page: pages[0]}, nil
	}
	page, err := bctx.NewPage()
	if err != nil {
		return nil, err
	}
	return &playwrightPage{page: page}, nil
}

func (s *playwrightSession) context() (playwright.BrowserContext, error) {
	if contexts := s.browser.Contexts(); len(contexts) > 0 {
		return contexts[0], nil
	}
	return s.browser.NewContext()
}

func (s *playwrightSession) StorageState(path string) error {
	bctx, err := s.context()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	if _, err := bctx.StorageState(path); err != nil {
		return fmt.Errorf("save storage state: %w", err)
	}
	return os.Chmod(path, 0o600)
}

func (s *playwrightSession) RestoreState(path string) error {
	state, err := ReadStorageState(path)
	if err != nil {
		return err
	}
	bctx, err := s.context()
	if err != nil {
		return err
	}
	cookies := make([]playwright.OptionalCookie, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		cookie := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if !c.Session() {
			cookie.Expires = playwright.Float(c.Expires)
		}
		if c.SameSite != "" {
			sameSite := playwright.SameSiteAttribute(c.SameSite)
			cookie.SameSite = &sameSite
		}
		cookies = append(cookies, cookie)
	}
	if len(cookies) == 0 {
		return nil
	}
	return bctx.AddCookies(cookies)
}

func (s *playwrightSession) Close() error {
	if s.browser != nil {
		_ = s.browser.Close()
	}
	if s.pw != nil {
		_ = s.pw.Stop()
	}
	return nil
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Goto(url string) error {
	_, err := p.page.Goto(url)
	return err
}

func (p *playwrightPage) Fill(loc Locator, value string) error {
	return p.firstMatch(loc, func(l playwright.Locator) error {
		return l.Fill(value)
	})
}

func (p *playwrightPage) Click(loc Locator) error {
	return p.firstMatch(loc, func(l playwright.Locator) error {
		return l.Click()
	})
}

func (p *playwrightPage) WaitFor(cond Condition) error {
	var timeout *float64
	if cond.Timeout > 0 {
		timeout = playwright.Float(float64(cond.Timeout.Milliseconds()))
	}
	if cond.LoadState != "" {
		state, err := loadState(cond.LoadState)
		if err != nil {
			return err
		}
		if err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{State: state, Timeout: timeout}); err != nil {
			return fmt.Errorf("wait for load state %s: %w", cond.LoadState, err)
		}
	}
	if cond.Selector != "" {
		state, err := selectorState(cond.State)
		if err != nil {
			return err
		}
		err = p.page.Locator(cond.Selector).First().WaitFor(playwright.LocatorWaitForOptions{State: state, Timeout: timeout})
		if err != nil {
			return fmt.Errorf("wait for %s to be %s: %w", cond.Selector, stateOrDefault(cond.State), err)
		}
	}
	return nil
}

func (p *playwrightPage) OuterHTML(selector string) (string, error) {
	v, err := p.page.Locator(selector).First().Evaluate("e => e.outerHTML", nil)
	if err != nil {
		return "", err
	}
	markup, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("outerHTML of %s: unexpected %T", selector, v)
	}
	return markup, nil
}

func (p *playwrightPage) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	p.page.SetDefaultTimeout(float64(d.Milliseconds()))
	return nil
}

func (p *playwrightPage) URL() (string, error) {
	return p.page.URL(), nil
}

func (p *playwrightPage) Title() (string, error) {
	return p.page.Title()
}

func (p *playwrightPage) candidates(loc Locator) []playwright.Locator {
	switch loc.Kind {
	case KindLabel:
		return []playwright.Locator{
			p.page.GetByLabel(loc.Target, playwright.PageGetByLabelOptions{Exact: playwright.Bool(true)}),
			p.page.GetByLabel(loc.Target, playwright.PageGetByLabelOptions{Exact: playwright.Bool(false)}),
			p.page.GetByPlaceholder(loc.Target, playwright.PageGetByPlaceholderOptions{Exact: playwright.Bool(true)}),
		}
	case KindRole:
		role := playwright.AriaRole(loc.Role)
		if loc.Target == "" {
			return []playwright.Locator{p.page.GetByRole(role)}
		}
		return []playwright.Locator{
			p.page.GetByRole(role, playwright.PageGetByRoleOptions{Name: loc.Target, Exact: playwright.Bool(true)}),
			p.page.GetByRole(role, playwright.PageGetByRoleOptions{Name: loc.Target, Exact: playwright.Bool(false)}),
		}
	case KindCSS:
		return []playwright.Locator{p.page.Locator(loc.Target)}
	default:
		escaped := strings.ReplaceAll(loc.Target, "\"", "\\\"")
		return []playwright.Locator{
			p.page.GetByText(loc.Target, playwright.PageGetByTextOptions{Exact: playwright.Bool(true)}),
			p.page.GetByText(loc.Target, playwright.PageGetByTextOptions{Exact: playwright.Bool(false)}),
			p.page.Locator(fmt.Sprintf("a:has-text(\"%s\")", escaped)),
			p.page.Locator(fmt.Sprintf("button:has-text(\"%s\")", escaped)),
			p.page.Locator(fmt.Sprintf("[role=button]:has-text(\"%s\")", escaped)),
			p.page.Locator(fmt.Sprintf("label:has-text(\"%s\")", escaped)),
		}
	}
}

// firstMatch runs action against each candidate in turn. The first
// candidate keeps the page default timeout so slow renders still resolve;
// fallbacks only try what is already in the DOM.
func (p *playwrightPage) firstMatch(loc Locator, action func(playwright.Locator) error) error {
	var lastErr error
	for i, candidate := range p.candidates(loc) {
		l := candidate.First()
		if i > 0 {
			if n, err := l.Count(); err != nil || n == 0 {
				continue
			}
		}
		if err := action(l); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if loc.Kind == KindText || loc.Kind == KindLabel {
		suggestion, sErr := p.suggestText(loc.Target)
		if sErr == nil && suggestion != "" {
			return fmt.Errorf("%w for %s. did you mean %q?", ErrNoElement, loc, suggestion)
		}
	}
	if lastErr != nil {
		return fmt.Errorf("%w for %s: %v", ErrNoElement, loc, lastErr)
	}
	return fmt.Errorf("%w for %s", ErrNoElement, loc)
}

func (p *playwrightPage) suggestText(text string) (string, error) {
	value, err := p.page.Evaluate(`() => {
  const candidates = new Set();
  const pushText = (t) => {
    if (!t) return;
    const v = String(t).trim();
    if (v) candidates.add(v);
  };
  document.querySelectorAll("a,button,[role=button],input[type=submit],input[type=button],label,[aria-label],[placeholder]").forEach(el => {
    pushText(el.innerText);
    if (el.getAttribute) {
      pushText(el.getAttribute("aria-label"));
      pushText(el.getAttribute("placeholder"));
    }
    if (el.value) pushText(el.value);
  });
  return Array.from(candidates).slice(0, 200);
}`)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	var candidates []string
	if err := json.Unmarshal(b, &candidates); err != nil {
		return "", err
	}
	return closestText(text, candidates), nil
}

func loadState(name string) (*playwright.LoadState, error) {
	switch name {
	case LoadStateLoad:
		return playwright.LoadStateLoad, nil
	case LoadStateDOMContentLoaded:
		return playwright.LoadStateDomcontentloaded, nil
	case LoadStateNetworkIdle:
		return playwright.LoadStateNetworkidle, nil
	default:
		return nil, errors.New("unknown load state: " + name)
	}
}

func selectorState(name string) (*playwright.WaitForSelectorState, error) {
	switch stateOrDefault(name) {
	case StateAttached:
		return playwright.WaitForSelectorStateAttached, nil
	case StateDetached:
		return playwright.WaitForSelectorStateDetached, nil
	case StateVisible:
		return playwright.WaitForSelectorStateVisible, nil
	case StateHidden:
		return playwright.WaitForSelectorStateHidden, nil
	default:
		return nil, errors.New("unknown selector state: " + name)
	}
}

func stateOrDefault(state string) string {
	if state == "" {
		return StateVisible
	}
	return state
}
