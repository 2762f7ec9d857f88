package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// ChromedpEngine speaks the DevTools protocol directly, so attaching needs no
// Playwright driver on the machine. It works in a tab of its own: a chromedp
// context closes its target when cancelled, so the user's tab is never
// adopted. Until the first navigation, the tab shows the page the user has
// open, loaded with the same cookies.
type ChromedpEngine struct{}

func (c ChromedpEngine) Attach(ctx context.Context, opts AttachOptions) (Session, error) {
	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)
	if opts.WebSocketURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, opts.WebSocketURL, chromedp.NoModifyURL)
	} else {
		endpoint, err := NormalizeEndpoint(opts.Endpoint)
		if err != nil {
			return nil, err
		}
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, endpoint)
	}
	// The first Run allocates the connection for the lifetime of its context,
	// so the timeout only bounds the dial.
	var ctxOpts []chromedp.ContextOption
	if opts.Timeout > 0 {
		ctxOpts = append(ctxOpts, chromedp.WithBrowserOption(chromedp.WithDialTimeout(opts.Timeout)))
	}
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, ctxOpts...)
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, err
	}
	targets, err := chromedp.Targets(tabCtx)
	if err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("list targets: %w", err)
	}
	own := chromedp.FromContext(tabCtx).Target.TargetID
	return &chromedpSession{
		ctx:    tabCtx,
		page:   &chromedpPage{ctx: tabCtx, timeout: opts.Timeout, resume: userPageURL(targets, own)},
		cancel: func() { cancelTab(); cancelAlloc() },
	}, nil
}

// userPageURL returns the address of the first page target other than own
// that shows a document.
func userPageURL(targets []*target.Info, own target.ID) string {
	for _, t := range targets {
		if t == nil || t.Type != "page" || t.TargetID == own {
			continue
		}
		if isBlankURL(t.URL) {
			continue
		}
		return t.URL
	}
	return ""
}

func isBlankURL(url string) bool {
	switch {
	case url == "", url == "about:blank":
		return true
	case strings.HasPrefix(url, "chrome://newtab"), strings.HasPrefix(url, "chrome-search://"):
		return true
	case strings.HasPrefix(url, "devtools://"):
		return true
	}
	return false
}

type chromedpSession struct {
	ctx    context.Context
	page   *chromedpPage
	cancel func()
}

func (s *chromedpSession) Page() (Page, error) {
	return s.page, nil
}

// StorageState reads every cookie of the browser, not only those of the
// current page.
func (s *chromedpSession) StorageState(path string) error {
	var cookies []*network.Cookie
	err := s.page.runBrowser(chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("save storage state: %w", err)
	}
	state := StorageState{Cookies: make([]StoredCookie, 0, len(cookies))}
	for _, c := range cookies {
		stored := StoredCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		}
		if c.Session {
			stored.Expires = -1
		}
		state.Cookies = append(state.Cookies, stored)
	}
	return WriteStorageState(path, state)
}

func (s *chromedpSession) RestoreState(path string) error {
	state, err := ReadStorageState(path)
	if err != nil {
		return err
	}
	if len(state.Cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: network.CookieSameSite(c.SameSite),
		}
		if !c.Session() {
			expires := cdp.TimeSinceEpoch(time.Unix(0, int64(c.Expires*float64(time.Second))))
			param.Expires = &expires
		}
		params = append(params, param)
	}
	return s.page.runBrowser(storage.SetCookies(params))
}

func (s *chromedpSession) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

type chromedpPage struct {
	ctx     context.Context
	timeout time.Duration
	// resume is the user's page, loaded into this tab before the first
	// action unless Goto ran first.
	resume string
	opened bool
}

// open loads the user's page into the tab once.
func (p *chromedpPage) open() error {
	if p.opened {
		return nil
	}
	if p.resume == "" {
		return fmt.Errorf("%w: the browser has no open tab with a document; pass a url", ErrNoPage)
	}
	if err := p.run(0, chromedp.Navigate(p.resume)); err != nil {
		return fmt.Errorf("open %s: %w", p.resume, err)
	}
	p.opened = true
	return nil
}

// runBrowser runs actions against the browser rather than the tab.
func (p *chromedpPage) runBrowser(actions ...chromedp.Action) error {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Browser == nil {
		return chromedp.ErrInvalidContext
	}
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, p.timeout)
		defer cancel()
	}
	return chromedp.Tasks(actions).Do(cdp.WithExecutor(ctx, c.Browser))
}

func (p *chromedpPage) run(timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = p.timeout
	}
	ctx := p.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, timeout)
		defer cancel()
	}
	return chromedp.Run(ctx, actions...)
}

func (p *chromedpPage) Goto(url string) error {
	if err := p.run(0, chromedp.Navigate(url)); err != nil {
		return err
	}
	p.opened = true
	return nil
}

func (p *chromedpPage) Fill(loc Locator, value string) error {
	if err := p.open(); err != nil {
		return err
	}
	sel, by := querySelector(loc)
	err := p.run(0,
		chromedp.WaitVisible(sel, by),
		chromedp.Clear(sel, by),
		chromedp.SendKeys(sel, value, by),
	)
	return elementError(loc, err)
}

func (p *chromedpPage) Click(loc Locator) error {
	if err := p.open(); err != nil {
		return err
	}
	sel, by := querySelector(loc)
	err := p.run(0,
		chromedp.WaitVisible(sel, by),
		chromedp.Click(sel, by),
	)
	return elementError(loc, err)
}

func (p *chromedpPage) WaitFor(cond Condition) error {
	if err := p.open(); err != nil {
		return err
	}
	if cond.LoadState != "" {
		expr, err := readyStateExpr(cond.LoadState)
		if err != nil {
			return err
		}
		var ok bool
		if err := p.run(cond.Timeout, chromedp.Poll(expr, &ok)); err != nil {
			return fmt.Errorf("wait for load state %s: %w", cond.LoadState, err)
		}
	}
	if cond.Selector == "" {
		return nil
	}
	var action chromedp.Action
	switch stateOrDefault(cond.State) {
	case StateAttached:
		action = chromedp.WaitReady(cond.Selector, chromedp.ByQuery)
	case StateDetached:
		action = chromedp.WaitNotPresent(cond.Selector, chromedp.ByQuery)
	case StateVisible:
		action = chromedp.WaitVisible(cond.Selector, chromedp.ByQuery)
	case StateHidden:
		action = chromedp.WaitNotVisible(cond.Selector, chromedp.ByQuery)
	default:
		return errors.New("unknown selector state: " + cond.State)
	}
	if err := p.run(cond.Timeout, action); err != nil {
		return fmt.Errorf("wait for %s to be %s: %w", cond.Selector, stateOrDefault(cond.State), err)
	}
	return nil
}

func (p *chromedpPage) OuterHTML(selector string) (string, error) {
	if err := p.open(); err != nil {
		return "", err
	}
	var markup string
	if err := p.run(0, chromedp.OuterHTML(selector, &markup, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return markup, nil
}

func (p *chromedpPage) SetTimeout(d time.Duration) error {
	if d > 0 {
		p.timeout = d
	}
	return nil
}

func (p *chromedpPage) URL() (string, error) {
	if err := p.open(); err != nil {
		return "", err
	}
	var url string
	return url, p.run(0, chromedp.Location(&url))
}

func (p *chromedpPage) Title() (string, error) {
	if err := p.open(); err != nil {
		return "", err
	}
	var title string
	return title, p.run(0, chromedp.Title(&title))
}

func querySelector(loc Locator) (string, chromedp.QueryOption) {
	if loc.Kind == KindCSS {
		return loc.Target, chromedp.ByQuery
	}
	return loc.XPath(), chromedp.BySearch
}

// readyStateExpr approximates Playwright load states with document.readyState.
// networkidle has no DOM equivalent and is treated as load.
func readyStateExpr(state string) (string, error) {
	switch state {
	case LoadStateLoad, LoadStateNetworkIdle:
		return `document.readyState === "complete"`, nil
	case LoadStateDOMContentLoaded:
		return `document.readyState !== "loading"`, nil
	default:
		return "", errors.New("unknown load state: " + state)
	}
}

func elementError(loc Locator, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w for %s: %v", ErrNoElement, loc, err)
	}
	return err
}
