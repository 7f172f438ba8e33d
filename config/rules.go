package config

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RulesConfig is the hot-reloadable routing rule set.
type RulesConfig struct {
	Escalation    []EscalationRule `mapstructure:"escalation"`
	Greetings     []string         `mapstructure:"greetings"`
	MenuText      string           `mapstructure:"menu_text"`
	CachePatterns []CachePattern   `mapstructure:"cache_patterns"`
	CancelWords   []string         `mapstructure:"cancel_words"`
}

// EscalationRule maps trigger keywords to a ticket category.
type EscalationRule struct {
	Category string   `mapstructure:"category"`
	Keywords []string `mapstructure:"keywords"`
}

// CachePattern is a named question template matched against normalized text.
type CachePattern struct {
	Name    string `mapstructure:"name"`
	Pattern string `mapstructure:"pattern"`
}

func setRuleDefaults(v *viper.Viper) {
	v.SetDefault("rules.escalation", []map[string]any{
		{"category": "access", "keywords": []string{"login", "password", "locked out", "2fa", "sso"}},
		{"category": "incident", "keywords": []string{"broken", "not working", "down", "crash", "error", "outage"}},
		{"category": "billing", "keywords": []string{"refund", "invoice", "charged", "payment failed"}},
		{"category": "human", "keywords": []string{"human", "real person", "talk to support", "create ticket"}},
	})
	v.SetDefault("rules.greetings", []string{"hi", "hello", "hey", "good morning", "menu", "start"})
	v.SetDefault("rules.menu_text", "Hi! I'm the helpdesk assistant. Ask me a question, or tell me what's broken and I'll open a ticket for you.")
	v.SetDefault("rules.cache_patterns", []map[string]any{
		{"name": "reset_password", "pattern": `\b(reset|forgot|change)\b.*\bpassword\b`},
		{"name": "vpn_setup", "pattern": `\b(setup|set up|configure|connect)\b.*\bvpn\b`},
		{"name": "office_hours", "pattern": `\b(working|office|support)\s+hours\b`},
		{"name": "wifi_access", "pattern": `\b(wifi|wi fi|wireless)\b.*\b(password|access|connect)\b`},
	})
	v.SetDefault("rules.cancel_words", []string{"cancel", "stop", "abort", "never mind", "nevermind"})
}

// RuleSource holds the current rule set and notifies subscribers on change.
type RuleSource struct {
	current atomic.Pointer[RulesConfig]

	mu   sync.Mutex
	subs []func(RulesConfig)
}

func NewRuleSource(initial RulesConfig) *RuleSource {
	s := &RuleSource{}
	s.current.Store(&initial)
	return s
}

// Rules returns the active rule set.
func (s *RuleSource) Rules() RulesConfig {
	return *s.current.Load()
}

// Subscribe registers fn to run after every update.
func (s *RuleSource) Subscribe(fn func(RulesConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Update swaps the active rule set and fans it out to subscribers.
func (s *RuleSource) Update(rules RulesConfig) {
	s.current.Store(&rules)

	s.mu.Lock()
	subs := append([]func(RulesConfig){}, s.subs...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(rules)
	}
}

// WatchRules re-reads the rule section whenever the config file changes.
// Only the rules section is hot-reloaded; everything else requires a restart.
func (c *Config) WatchRules(logger *slog.Logger, src *RuleSource) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}

	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var rules RulesConfig
		if err := c.v.UnmarshalKey("rules", &rules); err != nil {
			logger.Error("RULES_RELOAD_FAILED", "file", e.Name, "err", err)
			return
		}
		src.Update(rules)
		logger.Info("RULES_RELOADED",
			"file", e.Name,
			"escalation_rules", len(rules.Escalation),
			"cache_patterns", len(rules.CachePatterns),
		)
	})
	c.v.WatchConfig()
}
