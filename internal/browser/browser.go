package browser

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnreachable = errors.New("debugging endpoint unreachable")
	ErrNoElement   = errors.New("no matching element")
	ErrNoPage      = errors.New("no open page to read")
)

// AttachOptions describes how to reach a browser that was started elsewhere
// with remote debugging enabled.
type AttachOptions struct {
	Endpoint     string
	WebSocketURL string
	Timeout      time.Duration
}

type Engine interface {
	Attach(ctx context.Context, opts AttachOptions) (Session, error)
}

// Session is a connection to an external browser. Close disconnects; it never
// terminates the browser process.
type Session interface {
	Page() (Page, error)
	// StorageState writes the browser's cookies to path in Playwright's
	// storage-state format.
	StorageState(path string) error
	// RestoreState adds the cookies saved at path to the browser.
	RestoreState(path string) error
	Close() error
}

type Page interface {
	Goto(url string) error
	Fill(loc Locator, value string) error
	Click(loc Locator) error
	WaitFor(cond Condition) error
	// OuterHTML returns the markup of the first element matching selector,
	// the element itself included.
	OuterHTML(selector string) (string, error)
	SetTimeout(d time.Duration) error
	URL() (string, error)
	Title() (string, error)
}

// Condition is an observable page state to block on before reading content.
type Condition struct {
	Selector  string
	State     string
	LoadState string
	Timeout   time.Duration
}

func (c Condition) IsZero() bool {
	return c.Selector == "" && c.LoadState == ""
}

const (
	StateAttached = "attached"
	StateDetached = "detached"
	StateVisible  = "visible"
	StateHidden   = "hidden"
)

const (
	LoadStateLoad             = "load"
	LoadStateDOMContentLoaded = "domcontentloaded"
	LoadStateNetworkIdle      = "networkidle"
)

func ValidState(s string) bool {
	switch s {
	case "", StateAttached, StateDetached, StateVisible, StateHidden:
		return true
	}
	return false
}

func ValidLoadState(s string) bool {
	switch s {
	case "", LoadStateLoad, LoadStateDOMContentLoaded, LoadStateNetworkIdle:
		return true
	}
	return false
}
