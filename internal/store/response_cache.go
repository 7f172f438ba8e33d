package store

import (
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/webitel/im-support-bot/config"
	"github.com/webitel/im-support-bot/internal/domain/model"
)

type compiledPattern struct {
	name string
	re   *regexp.Regexp
}

// ResponseCache maps normalized question patterns to previously generated answers.
// It is an optimization only: a miss never changes the reply, only its cost.
type ResponseCache struct {
	ttl      time.Duration
	now      func() time.Time
	entries  *expirable.LRU[string, model.CacheEntry]
	patterns atomic.Pointer[[]compiledPattern]
	logger   *slog.Logger
}

func NewResponseCache(size int, ttl time.Duration, patterns []config.CachePattern, logger *slog.Logger) *ResponseCache {
	c := &ResponseCache{
		ttl:     ttl,
		now:     time.Now,
		entries: expirable.NewLRU[string, model.CacheEntry](max(size, 1), nil, ttl),
		logger:  logger,
	}
	c.SetPatterns(patterns)
	return c
}

// SetPatterns replaces the question templates; invalid expressions are skipped.
func (c *ResponseCache) SetPatterns(patterns []config.CachePattern) {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("CACHE_PATTERN_INVALID", "name", p.Name, "err", err)
			}
			continue
		}
		compiled = append(compiled, compiledPattern{name: p.Name, re: re})
	}
	c.patterns.Store(&compiled)
}

// Key returns the pattern key for text: the first matching template, else the exact normalized text.
func (c *ResponseCache) Key(text string) string {
	norm := Normalize(text)
	if norm == "" {
		return ""
	}
	for _, p := range *c.patterns.Load() {
		if p.re.MatchString(norm) {
			return "pattern:" + p.name
		}
	}
	return "exact:" + norm
}

func (c *ResponseCache) Lookup(text string) (string, bool) {
	key := c.Key(text)
	if key == "" {
		return "", false
	}
	entry, ok := c.entries.Get(key)
	if !ok {
		return "", false
	}
	if entry.Expired(c.now(), c.ttl) {
		c.entries.Remove(key)
		return "", false
	}
	return entry.Answer, true
}

// Store overwrites any existing answer for the same pattern.
func (c *ResponseCache) Store(text, answer string) {
	key := c.Key(text)
	if key == "" || strings.TrimSpace(answer) == "" {
		return
	}
	c.entries.Add(key, model.CacheEntry{
		PatternKey: key,
		Answer:     answer,
		CreatedAt:  c.now(),
	})
}

func (c *ResponseCache) Len() int {
	return c.entries.Len()
}

// Normalize lowercases text, replaces punctuation with spaces and collapses whitespace.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space && b.Len() > 0 {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
