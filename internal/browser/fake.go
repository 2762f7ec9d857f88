package browser

import (
	"context"
	"fmt"
	"time"
)

type FakeEngine struct {
	Session  *FakeSession
	Err      error
	Attached []AttachOptions
}

func (f *FakeEngine) Attach(_ context.Context, opts AttachOptions) (Session, error) {
	f.Attached = append(f.Attached, opts)
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Session == nil {
		f.Session = &FakeSession{}
	}
	return f.Session, nil
}

type FakeSession struct {
	Pages   []*FakePage
	Closed  bool
	Cookies []StoredCookie
	// StoragePath and RestoredPath record the last save and restore.
	StoragePath  string
	RestoredPath string
}

// Page returns the first page, creating one if the session has none.
func (s *FakeSession) Page() (Page, error) {
	if len(s.Pages) == 0 {
		s.Pages = append(s.Pages, &FakePage{})
	}
	return s.Pages[0], nil
}

func (s *FakeSession) StorageState(path string) error {
	s.StoragePath = path
	return WriteStorageState(path, StorageState{Cookies: s.Cookies})
}

func (s *FakeSession) RestoreState(path string) error {
	state, err := ReadStorageState(path)
	if err != nil {
		return err
	}
	s.RestoredPath = path
	s.Cookies = append(s.Cookies, state.Cookies...)
	return nil
}

func (s *FakeSession) Close() error {
	s.Closed = true
	return nil
}

type FakePage struct {
	URLValue   string
	TitleValue string
	// HTML maps a selector to the outer markup returned for it.
	HTML    map[string]string
	Missing map[string]bool
	Actions []string
	Waits   []Condition
	Timeout time.Duration
	WaitErr error
}

func (p *FakePage) Goto(url string) error {
	p.URLValue = url
	p.Actions = append(p.Actions, "goto "+url)
	return nil
}

func (p *FakePage) Fill(loc Locator, value string) error {
	if p.Missing[loc.String()] {
		return fmt.Errorf("%w for %s", ErrNoElement, loc)
	}
	p.Actions = append(p.Actions, "fill "+loc.String()+"="+value)
	return nil
}

func (p *FakePage) Click(loc Locator) error {
	if p.Missing[loc.String()] {
		return fmt.Errorf("%w for %s", ErrNoElement, loc)
	}
	p.Actions = append(p.Actions, "click "+loc.String())
	return nil
}

func (p *FakePage) WaitFor(cond Condition) error {
	p.Waits = append(p.Waits, cond)
	return p.WaitErr
}

func (p *FakePage) OuterHTML(selector string) (string, error) {
	markup, ok := p.HTML[selector]
	if !ok {
		return "", fmt.Errorf("%w for css=%s", ErrNoElement, selector)
	}
	return markup, nil
}

func (p *FakePage) SetTimeout(d time.Duration) error {
	p.Timeout = d
	return nil
}

func (p *FakePage) URL() (string, error) {
	return p.URLValue, nil
}

func (p *FakePage) Title() (string, error) {
	return p.TitleValue, nil
}
