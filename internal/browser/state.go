package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StorageState is the layout of a Playwright storage-state file. Only cookies
// are interpreted; origins are kept as written.
type StorageState struct {
	Cookies []StoredCookie    `json:"cookies"`
	Origins []json.RawMessage `json:"origins"`
}

type StoredCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Session reports whether the cookie ends with the browser session.
func (c StoredCookie) Session() bool {
	return c.Expires <= 0
}

func ReadStorageState(path string) (StorageState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StorageState{}, err
	}
	var state StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return StorageState{}, fmt.Errorf("read storage state %s: %w", path, err)
	}
	return state, nil
}

// WriteStorageState writes state readable by the owner only; it holds
// session cookies.
func WriteStorageState(path string, state StorageState) error {
	if state.Cookies == nil {
		state.Cookies = []StoredCookie{}
	}
	if state.Origins == nil {
		state.Origins = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
