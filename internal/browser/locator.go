package browser

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindLabel Kind = "label"
	KindText  Kind = "text"
	KindRole  Kind = "role"
	KindCSS   Kind = "css"
)

// Locator selects a control the way a person would describe it: by its
// accessible label, its visible text, its ARIA role and name, or a CSS selector.
type Locator struct {
	Kind   Kind
	Role   string
	Target string
}

// ParseLocator accepts "label=Email", "text=Sign in", "role=button:Sign in"
// and "css=#submit". Anything without a known prefix is visible text.
func ParseLocator(value string) (Locator, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Locator{}, errors.New("empty locator")
	}
	kind, rest, ok := strings.Cut(value, "=")
	if !ok {
		return Locator{Kind: KindText, Target: value}, nil
	}
	switch Kind(kind) {
	case KindLabel, KindText, KindCSS:
		if rest == "" {
			return Locator{}, fmt.Errorf("locator %q has no target", value)
		}
		return Locator{Kind: Kind(kind), Target: rest}, nil
	case KindRole:
		role, name, _ := strings.Cut(rest, ":")
		if role == "" {
			return Locator{}, fmt.Errorf("locator %q has no role", value)
		}
		return Locator{Kind: KindRole, Role: role, Target: name}, nil
	default:
		return Locator{Kind: KindText, Target: value}, nil
	}
}

func (l Locator) String() string {
	if l.Kind == KindRole {
		if l.Target == "" {
			return "role=" + l.Role
		}
		return "role=" + l.Role + ":" + l.Target
	}
	return string(l.Kind) + "=" + l.Target
}

// XPath renders the locator as an XPath expression for drivers that only
// speak DOM search.
func (l Locator) XPath() string {
	lit := xpathLiteral(l.Target)
	switch l.Kind {
	case KindLabel:
		field := "(self::input or self::textarea or self::select)"
		return fmt.Sprintf(
			"//*[%s][@aria-label=%s] | //*[%s][@id=//label[normalize-space(.)=%s]/@for] | //label[normalize-space(.)=%s]//*[%s] | //*[%s][@placeholder=%s]",
			field, lit, field, lit, lit, field, field, lit,
		)
	case KindRole:
		role := xpathLiteral(l.Role)
		if l.Target == "" {
			return fmt.Sprintf("//*[@role=%s or local-name()=%s]", role, role)
		}
		return fmt.Sprintf("//*[@role=%s or local-name()=%s][normalize-space(.)=%s or @aria-label=%s or @value=%s]", role, role, lit, lit, lit)
	case KindCSS:
		return ""
	default:
		return fmt.Sprintf(
			"//*[self::a or self::button or @role=\"button\" or self::label][normalize-space(.)=%s] | //input[@type=\"submit\" or @type=\"button\"][@value=%s]",
			lit, lit,
		)
	}
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if part != "" {
			quoted = append(quoted, `"`+part+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
