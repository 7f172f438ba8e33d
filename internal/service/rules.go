package service

import (
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/webitel/im-support-bot/config"
	"github.com/webitel/im-support-bot/internal/store"
)

// Matcher evaluates the routing rule set against normalized message text.
// It is safe for concurrent use; Update swaps the rules atomically.
type Matcher struct {
	rules atomic.Pointer[compiledRules]
}

type compiledRules struct {
	escalation []escalationMatcher
	greetings  map[string]struct{}
	cancel     map[string]struct{}
	menuText   string
}

type escalationMatcher struct {
	category string
	re       *regexp.Regexp
}

func NewMatcher(rules config.RulesConfig) *Matcher {
	m := &Matcher{}
	m.Update(rules)
	return m
}

// Update recompiles the rule set. Rules without usable keywords are skipped.
func (m *Matcher) Update(rules config.RulesConfig) {
	c := &compiledRules{
		greetings: toSet(rules.Greetings),
		cancel:    toSet(rules.CancelWords),
		menuText:  rules.MenuText,
	}

	for _, r := range rules.Escalation {
		alts := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			if norm := store.Normalize(kw); norm != "" {
				alts = append(alts, regexp.QuoteMeta(norm))
			}
		}
		if len(alts) == 0 || r.Category == "" {
			continue
		}
		c.escalation = append(c.escalation, escalationMatcher{
			category: r.Category,
			re:       regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)\b`),
		})
	}

	m.rules.Store(c)
}

// Escalation returns the category of the first rule whose keywords appear in text.
func (m *Matcher) Escalation(text string) (string, bool) {
	norm := store.Normalize(text)
	if norm == "" {
		return "", false
	}
	for _, e := range m.rules.Load().escalation {
		if e.re.MatchString(norm) {
			return e.category, true
		}
	}
	return "", false
}

// QuickReply answers greetings with the menu text.
func (m *Matcher) QuickReply(text string) (string, bool) {
	c := m.rules.Load()
	if c.menuText == "" {
		return "", false
	}
	if _, ok := c.greetings[store.Normalize(text)]; ok {
		return c.menuText, true
	}
	return "", false
}

// IsCancel reports whether text asks to abort a pending flow.
func (m *Matcher) IsCancel(text string) bool {
	_, ok := m.rules.Load().cancel[store.Normalize(text)]
	return ok
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if norm := store.Normalize(w); norm != "" {
			set[norm] = struct{}{}
		}
	}
	return set
}
