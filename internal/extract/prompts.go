package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gobwas/glob"
)

var ErrNoPrompts = errors.New("no prompt containers found")

// Prompt is one user message from a chat transcript. Content holds its
// lines in order.
type Prompt struct {
	ID        string   `json:"id"`
	Content   []string `json:"content"`
	SourceURL string   `json:"source_url"`
}

// PromptSelectors locate user messages. With an empty Line selector every
// visible-text line of the container is one line of the prompt.
type PromptSelectors struct {
	Container string
	Line      string
}

type Provider struct {
	Name      string
	Patterns  []string
	Selectors PromptSelectors
	globs     []glob.Glob
}

func (p Provider) Matches(url string) bool {
	for _, g := range p.globs {
		if g.Match(url) {
			return true
		}
	}
	return false
}

var providers = []Provider{
	newProvider("gemini", PromptSelectors{
		Container: "span.user-query-bubble-with-background",
		Line:      "p.query-text-line",
	}, "https://gemini.google.com/app/*", "https://gemini.google.com/app"),
	newProvider("openai", PromptSelectors{
		Container: `div[data-message-author-role="user"]`,
	}, "https://chatgpt.com/c/*"),
}

func newProvider(name string, sel PromptSelectors, patterns ...string) Provider {
	p := Provider{Name: name, Patterns: patterns, Selectors: sel}
	for _, pattern := range patterns {
		p.globs = append(p.globs, glob.MustCompile(pattern))
	}
	return p
}

func Providers() []Provider {
	return append([]Provider(nil), providers...)
}

func ProviderByName(name string) (Provider, bool) {
	for _, p := range providers {
		if p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}

func ProviderFor(url string) (Provider, bool) {
	for _, p := range providers {
		if p.Matches(url) {
			return p, true
		}
	}
	return Provider{}, false
}

// Prompts groups the lines of every matched container. A blank line closes
// the current group; each group becomes one prompt, numbered across the
// whole document.
func Prompts(markup string, sourceURL string, sel PromptSelectors) ([]Prompt, error) {
	if strings.TrimSpace(sel.Container) == "" {
		return nil, errors.New("prompt container selector required")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	containers := doc.Find(sel.Container)
	if containers.Length() == 0 {
		return nil, ErrNoPrompts
	}
	prompts := []Prompt{}
	containers.Each(func(_ int, c *goquery.Selection) {
		for _, group := range groupLines(promptLines(c, sel.Line)) {
			prompts = append(prompts, Prompt{
				ID:        fmt.Sprintf("prompt-%d", len(prompts)),
				Content:   group,
				SourceURL: sourceURL,
			})
		}
	})
	return prompts, nil
}

func promptLines(container *goquery.Selection, lineSelector string) []string {
	if lineSelector == "" {
		text := VisibleTextSelection(container)
		if text == "" {
			return nil
		}
		return strings.Split(text, "\n")
	}
	var lines []string
	container.Find(lineSelector).Each(func(_ int, s *goquery.Selection) {
		lines = append(lines, strings.ReplaceAll(VisibleTextSelection(s), "\n", " "))
	})
	return lines
}

func groupLines(lines []string) [][]string {
	var groups [][]string
	var cur []string
	for _, line := range lines {
		if line == "" {
			if len(cur) > 0 {
				groups = append(groups, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}
