package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// HTML fallback policies
const (
	HTMLFallbackIndex = "index"
	HTMLFallbackOff   = "false"
)

// DevConfig holds the options that shape the request pipeline. It is read
// once when the pipeline is assembled.
type DevConfig struct {
	Compress           bool                  `yaml:"compress" envconfig:"COMPRESS"`
	Headers            map[string]string     `yaml:"headers" envconfig:"HEADERS"`
	Proxy              ProxyConfig           `yaml:"proxy" envconfig:"PROXY"`
	PublicDir          PublicDirConfig       `yaml:"public_dir" envconfig:"PUBLIC_DIR"`
	HTMLFallback       string                `yaml:"html_fallback" envconfig:"HTML_FALLBACK" validate:"oneof=index false"`
	HistoryAPIFallback HistoryFallbackConfig `yaml:"history_api_fallback" envconfig:"HISTORY_API_FALLBACK"`
	Client             ClientConfig          `yaml:"client" envconfig:"CLIENT"`
}

// ClientConfig configures the live-update socket offered to browsers
type ClientConfig struct {
	Path       string `yaml:"path" envconfig:"PATH" validate:"startswith=/"`
	HMR        bool   `yaml:"hmr" envconfig:"HMR"`
	LiveReload bool   `yaml:"live_reload" envconfig:"LIVE_RELOAD"`
}

// PublicDirConfig names a directory served as static assets. An empty name
// disables it.
type PublicDirConfig struct {
	Name string `yaml:"name" json:"name"`
}

// Enabled reports whether a public directory is configured
func (p PublicDirConfig) Enabled() bool {
	return p.Name != ""
}

// UnmarshalYAML accepts either a bare directory name or {name: ...}
func (p *PublicDirConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		p.Name = name
		return nil
	}
	type plain PublicDirConfig
	return unmarshal((*plain)(p))
}

// Decode implements envconfig.Decoder
func (p *PublicDirConfig) Decode(value string) error {
	p.Name = strings.TrimSpace(value)
	return nil
}

// HistoryFallbackConfig mirrors the rule object of the legacy-routing
// fallback. The boolean form maps onto Enabled.
type HistoryFallbackConfig struct {
	Enabled           bool             `yaml:"-" json:"-"`
	Index             string           `yaml:"index" json:"index"`
	Rewrites          []HistoryRewrite `yaml:"rewrites" json:"rewrites" validate:"dive"`
	DisableDotRule    bool             `yaml:"disable_dot_rule" json:"disableDotRule"`
	HTMLAcceptHeaders []string         `yaml:"html_accept_headers" json:"htmlAcceptHeaders"`
	Verbose           bool             `yaml:"verbose" json:"verbose"`
}

// HistoryRewrite maps a path pattern to a replacement. To may reference
// capture groups as $1.
type HistoryRewrite struct {
	From string `yaml:"from" json:"from" validate:"required"`
	To   string `yaml:"to" json:"to" validate:"required"`
}

// UnmarshalYAML accepts a bool or a rule mapping
func (h *HistoryFallbackConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var enabled bool
	if err := unmarshal(&enabled); err == nil {
		*h = HistoryFallbackConfig{Enabled: enabled}
		return nil
	}
	type plain HistoryFallbackConfig
	var rule plain
	if err := unmarshal(&rule); err != nil {
		return fmt.Errorf("history_api_fallback must be a bool or a mapping: %w", err)
	}
	*h = HistoryFallbackConfig(rule)
	h.Enabled = true
	return nil
}

// Decode implements envconfig.Decoder for "true", "false" or a JSON rule object
func (h *HistoryFallbackConfig) Decode(value string) error {
	value = strings.TrimSpace(value)
	if enabled, err := strconv.ParseBool(value); err == nil {
		*h = HistoryFallbackConfig{Enabled: enabled}
		return nil
	}
	type plain HistoryFallbackConfig
	var rule plain
	if err := json.Unmarshal([]byte(value), &rule); err != nil {
		return fmt.Errorf("history api fallback: %w", err)
	}
	*h = HistoryFallbackConfig(rule)
	h.Enabled = true
	return nil
}

// ProxyConfig is the ordered set of proxy rules. No rules disables proxying.
type ProxyConfig struct {
	Rules []ProxyRule `validate:"dive"`
}

// Enabled reports whether any proxy rule is configured
func (p ProxyConfig) Enabled() bool {
	return len(p.Rules) > 0
}

// ProxyRule forwards requests matching Context to Target
type ProxyRule struct {
	Context      []string          `yaml:"context" json:"context" validate:"min=1"`
	Target       string            `yaml:"target" json:"target" validate:"required,url"`
	ChangeOrigin bool              `yaml:"change_origin" json:"changeOrigin"`
	PathRewrite  map[string]string `yaml:"path_rewrite" json:"pathRewrite"`
	WS           bool              `yaml:"ws" json:"ws"`
	Secure       *bool             `yaml:"secure" json:"secure"`
	Headers      map[string]string `yaml:"headers" json:"headers"`
	Bypass       string            `yaml:"bypass" json:"bypass"`
}

// VerifyTLS reports whether upstream certificates are checked
func (r ProxyRule) VerifyTLS() bool {
	return r.Secure == nil || *r.Secure
}

// UnmarshalYAML accepts a list of rules, or a mapping of context to either a
// target URL or a rule. Mapping order is preserved.
func (p *ProxyConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var list []ProxyRule
	if err := unmarshal(&list); err == nil {
		p.Rules = list
		return nil
	}

	var entries yaml.MapSlice
	if err := unmarshal(&entries); err != nil {
		return fmt.Errorf("proxy must be a list or a mapping: %w", err)
	}

	rules := make([]ProxyRule, 0, len(entries))
	for _, entry := range entries {
		context := fmt.Sprint(entry.Key)
		if target, ok := entry.Value.(string); ok {
			rules = append(rules, shorthandRule(context, target))
			continue
		}
		raw, err := yaml.Marshal(entry.Value)
		if err != nil {
			return fmt.Errorf("proxy %q: %w", context, err)
		}
		var rule ProxyRule
		if err := yaml.Unmarshal(raw, &rule); err != nil {
			return fmt.Errorf("proxy %q: %w", context, err)
		}
		if len(rule.Context) == 0 {
			rule.Context = []string{context}
		}
		rules = append(rules, rule)
	}
	p.Rules = rules
	return nil
}

// Decode implements envconfig.Decoder. The value is JSON in any of the YAML
// shapes.
func (p *ProxyConfig) Decode(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		p.Rules = nil
		return nil
	}

	if strings.HasPrefix(value, "[") {
		var list []ProxyRule
		if err := json.Unmarshal([]byte(value), &list); err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
		p.Rules = list
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(value))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return fmt.Errorf("proxy: expected a JSON object or array")
	}

	var rules []ProxyRule
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
		context, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("proxy %q: %w", context, err)
		}

		var target string
		if err := json.Unmarshal(raw, &target); err == nil {
			rules = append(rules, shorthandRule(context, target))
			continue
		}

		var rule ProxyRule
		d := json.NewDecoder(bytes.NewReader(raw))
		d.DisallowUnknownFields()
		if err := d.Decode(&rule); err != nil {
			return fmt.Errorf("proxy %q: %w", context, err)
		}
		if len(rule.Context) == 0 {
			rule.Context = []string{context}
		}
		rules = append(rules, rule)
	}
	p.Rules = rules
	return nil
}

func shorthandRule(context, target string) ProxyRule {
	return ProxyRule{
		Context:      []string{context},
		Target:       target,
		ChangeOrigin: true,
	}
}
