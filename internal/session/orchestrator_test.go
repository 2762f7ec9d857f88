package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/patrickjm/pagegrab/internal/browser"
	"github.com/patrickjm/pagegrab/internal/extract"
)

func reachable(_ context.Context, _ string, _ time.Duration) (browser.VersionInfo, error) {
	return browser.VersionInfo{Browser: "Chrome/130", WebSocketDebuggerURL: "ws://127.0.0.1:9222/devtools/browser/x"}, nil
}

func unreachable(_ context.Context, endpoint string, _ time.Duration) (browser.VersionInfo, error) {
	return browser.VersionInfo{}, fmt.Errorf("%w: %s", browser.ErrUnreachable, endpoint)
}

func fakeWithPage(page *browser.FakePage) *browser.FakeEngine {
	return &browser.FakeEngine{Session: &browser.FakeSession{Pages: []*browser.FakePage{page}}}
}

func mustLocator(t *testing.T, s string) browser.Locator {
	t.Helper()
	loc, err := browser.ParseLocator(s)
	require.NoError(t, err)
	return loc
}

func TestRunScrape(t *testing.T) {
	page := &browser.FakePage{
		TitleValue: "Portal",
		HTML:       map[string]string{"body": `<p>Hello</p><script>ignored()</script><p>World</p>`},
	}
	engine := fakeWithPage(page)
	orch := Orchestrator{Engine: engine, Probe: reachable}

	result, err := orch.Run(context.Background(), Plan{
		Mode:     ModeScrape,
		Endpoint: "http://127.0.0.1:9222",
		URL:      "https://portal.example.com",
		Timeout:  3 * time.Second,
		Steps:    []Step{{Action: ActionClick, Locator: mustLocator(t, "text=ignored in scrape mode")}},
	})
	require.NoError(t, err)
	require.Equal(t, "Hello\nWorld", result.Text)
	require.Equal(t, "Portal", result.Title)
	require.Equal(t, "https://portal.example.com", result.URL)
	require.Equal(t, []string{"goto https://portal.example.com"}, page.Actions)
	require.Equal(t, 3*time.Second, page.Timeout)
	require.Empty(t, page.Waits)
	require.True(t, engine.Session.Closed)
	require.Len(t, engine.Attached, 1)
	require.Equal(t, "ws://127.0.0.1:9222/devtools/browser/x", engine.Attached[0].WebSocketURL)
}

func TestRunLoginStepsInOrder(t *testing.T) {
	page := &browser.FakePage{HTML: map[string]string{"main": `<h1>Grades</h1>`}}
	engine := fakeWithPage(page)
	orch := Orchestrator{Engine: engine, Probe: reachable}

	cond := browser.Condition{Selector: "#grades", State: browser.StateVisible, Timeout: time.Second}
	result, err := orch.Run(context.Background(), Plan{
		Mode:     ModeLogin,
		Endpoint: "127.0.0.1:9222",
		Steps: []Step{
			{Action: ActionClick, Locator: mustLocator(t, "text=Sign in")},
			{Action: ActionFill, Locator: mustLocator(t, "label=Email"), Value: "me@example.com"},
			{Action: ActionFill, Locator: mustLocator(t, "label=Password"), Value: "secret"},
			{Action: ActionClick, Locator: mustLocator(t, "role=button:Log in")},
		},
		Wait:     cond,
		Selector: "main",
	})
	require.NoError(t, err)
	require.Equal(t, "Grades", result.Text)
	require.Equal(t, []string{
		"click text=Sign in",
		"fill label=Email=me@example.com",
		"fill label=Password=secret",
		"click role=button:Log in",
	}, page.Actions)
	require.Equal(t, []browser.Condition{cond}, page.Waits)
}

func TestRunUnreachableNeverAttaches(t *testing.T) {
	engine := &browser.FakeEngine{}
	orch := Orchestrator{Engine: engine, Probe: unreachable}

	result, err := orch.Run(context.Background(), Plan{Endpoint: "127.0.0.1:1"})
	require.ErrorIs(t, err, browser.ErrUnreachable)
	require.Equal(t, Result{}, result)
	require.Empty(t, engine.Attached)
}

func TestRunAttachFailure(t *testing.T) {
	engine := &browser.FakeEngine{Err: errors.New("connection refused")}
	orch := Orchestrator{Engine: engine, Probe: reachable}

	_, err := orch.Run(context.Background(), Plan{Endpoint: "127.0.0.1:9222"})
	require.ErrorContains(t, err, "connection refused")
}

func TestRunMissingControlStops(t *testing.T) {
	page := &browser.FakePage{
		HTML:    map[string]string{"body": `<p>never read</p>`},
		Missing: map[string]bool{"label=Email": true},
	}
	engine := fakeWithPage(page)
	orch := Orchestrator{Engine: engine, Probe: reachable}

	_, err := orch.Run(context.Background(), Plan{
		Mode: ModeLogin,
		Steps: []Step{
			{Action: ActionClick, Locator: mustLocator(t, "text=Sign in")},
			{Action: ActionFill, Locator: mustLocator(t, "label=Email"), Value: "x"},
			{Action: ActionClick, Locator: mustLocator(t, "text=Next")},
		},
	})
	require.ErrorIs(t, err, browser.ErrNoElement)
	require.ErrorContains(t, err, "login step 2")
	require.Equal(t, []string{"click text=Sign in"}, page.Actions)
	require.True(t, engine.Session.Closed)
}

func TestRunWaitFailure(t *testing.T) {
	page := &browser.FakePage{
		HTML:    map[string]string{"body": `<p>x</p>`},
		WaitErr: errors.New("timeout 1000ms exceeded"),
	}
	orch := Orchestrator{Engine: fakeWithPage(page), Probe: reachable}

	_, err := orch.Run(context.Background(), Plan{Wait: browser.Condition{LoadState: browser.LoadStateNetworkIdle}})
	require.ErrorContains(t, err, "timeout")
}

func TestRunMissingRoot(t *testing.T) {
	page := &browser.FakePage{HTML: map[string]string{}}
	orch := Orchestrator{Engine: fakeWithPage(page), Probe: reachable}

	_, err := orch.Run(context.Background(), Plan{Selector: "#content"})
	require.ErrorIs(t, err, browser.ErrNoElement)
}

func TestRunTableRoot(t *testing.T) {
	table := `<table id="grades"><tbody><tr><th>Name</th><th>Grade</th></tr><tr><td>Math</td><td>A</td></tr></tbody></table>`
	page := &browser.FakePage{HTML: map[string]string{
		"#grades":       table,
		"#grades>tbody": `<tbody><tr><th>Name</th><th>Grade</th></tr><tr><td>Math</td><td>A</td></tr></tbody>`,
	}}
	orch := Orchestrator{Engine: fakeWithPage(page), Probe: reachable}

	result, err := orch.Run(context.Background(), Plan{Selector: "#grades"})
	require.NoError(t, err)
	require.Equal(t, "Name\nGrade\nMath\nA", result.Text)

	result, err = orch.Run(context.Background(), Plan{Selector: "#grades>tbody"})
	require.NoError(t, err)
	require.Equal(t, "Name\nGrade\nMath\nA", result.Text)
}

func TestRunIdempotentExtraction(t *testing.T) {
	page := &browser.FakePage{HTML: map[string]string{"body": `<div><h2>Term</h2><p>A <b>+</b></p></div>`}}
	orch := Orchestrator{Engine: fakeWithPage(page), Probe: reachable}

	first, err := orch.Run(context.Background(), Plan{})
	require.NoError(t, err)
	second, err := orch.Run(context.Background(), Plan{})
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestRunPrompts(t *testing.T) {
	page := &browser.FakePage{
		URLValue: "https://gemini.google.com/app/abc",
		HTML: map[string]string{"body": `<span class="user-query-bubble-with-background">
  <p class="query-text-line">Summarize this</p>
</span>`},
	}
	orch := Orchestrator{Engine: fakeWithPage(page), Probe: reachable}

	result, err := orch.Run(context.Background(), Plan{Prompts: true})
	require.NoError(t, err)
	require.Equal(t, []extract.Prompt{{ID: "prompt-0", Content: []string{"Summarize this"}, SourceURL: "https://gemini.google.com/app/abc"}}, result.Prompts)

	_, err = orch.Run(context.Background(), Plan{Prompts: true, Provider: "openai"})
	require.ErrorIs(t, err, extract.ErrNoPrompts)

	_, err = orch.Run(context.Background(), Plan{Prompts: true, Provider: "bard"})
	require.ErrorContains(t, err, "unknown prompt provider")
}

func TestRunSavesStateAfterLogin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	page := &browser.FakePage{HTML: map[string]string{"body": `<p>Welcome</p>`}}
	engine := fakeWithPage(page)
	engine.Session.Cookies = []browser.StoredCookie{{Name: "sid", Value: "abc", Domain: "portal.example.com", Path: "/", Expires: -1}}
	orch := Orchestrator{Engine: engine, Probe: reachable}

	_, err := orch.Run(context.Background(), Plan{
		Mode:      ModeLogin,
		Steps:     []Step{{Action: ActionClick, Locator: mustLocator(t, "text=Sign in")}},
		StatePath: path,
	})
	require.NoError(t, err)
	require.Equal(t, path, engine.Session.StoragePath)
	require.Empty(t, engine.Session.RestoredPath)

	state, err := browser.ReadStorageState(path)
	require.NoError(t, err)
	require.Equal(t, engine.Session.Cookies, state.Cookies)
}

func TestRunFailedLoginSavesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	page := &browser.FakePage{Missing: map[string]bool{"text=Sign in": true}}
	engine := fakeWithPage(page)
	orch := Orchestrator{Engine: engine, Probe: reachable}

	_, err := orch.Run(context.Background(), Plan{
		Mode:      ModeLogin,
		Steps:     []Step{{Action: ActionClick, Locator: mustLocator(t, "text=Sign in")}},
		StatePath: path,
	})
	require.ErrorIs(t, err, browser.ErrNoElement)
	require.Empty(t, engine.Session.StoragePath)
	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunRestoresStateBeforeScrape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	saved := []browser.StoredCookie{{Name: "sid", Value: "abc", Domain: "portal.example.com", Path: "/", Expires: -1}}
	require.NoError(t, browser.WriteStorageState(path, browser.StorageState{Cookies: saved}))

	page := &browser.FakePage{HTML: map[string]string{"body": `<p>Grades</p>`}}
	engine := fakeWithPage(page)
	orch := Orchestrator{Engine: engine, Probe: reachable}

	result, err := orch.Run(context.Background(), Plan{URL: "https://portal.example.com", StatePath: path})
	require.NoError(t, err)
	require.Equal(t, "Grades", result.Text)
	require.Equal(t, path, engine.Session.RestoredPath)
	require.Equal(t, saved, engine.Session.Cookies)
	require.Empty(t, engine.Session.StoragePath)

	missing := fakeWithPage(&browser.FakePage{HTML: map[string]string{"body": `<p>x</p>`}})
	_, err = Orchestrator{Engine: missing, Probe: reachable}.Run(context.Background(), Plan{StatePath: filepath.Join(t.TempDir(), "none.json")})
	require.NoError(t, err)
	require.Empty(t, missing.Session.RestoredPath)
}
