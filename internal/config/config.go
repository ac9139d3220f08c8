// Package config loads the platform's structured configuration from
// YAML or JSON5, applies the AGENTIC_OS_ environment overlay, and
// validates section presence and cross-references before anything
// starts.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/agentos/internal/channels"
	"github.com/haasonsaas/agentos/internal/tools/policy"
)

// EnvPrefix is the prefix for environment overlay variables. Double
// underscores separate nesting levels: AGENTIC_OS_GATEWAY__LISTEN
// overrides gateway.listen.
const EnvPrefix = "AGENTIC_OS_"

// requiredSections must appear in every config document, even if empty.
var requiredSections = []string{
	"gateway", "agents", "bindings", "models", "auth",
	"session", "tools", "sandbox", "plugins",
}

// optionalSections may be omitted entirely.
var optionalSections = []string{"memory", "skills", "channels"}

// Duration is a time.Duration that unmarshals from strings like "30s"
// or bare numbers of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration document.
type Config struct {
	Gateway  Gateway            `yaml:"gateway"`
	Agents   []Agent            `yaml:"agents"`
	Bindings []channels.Binding `yaml:"bindings"`
	Models   Models             `yaml:"models"`
	Auth     Auth               `yaml:"auth"`
	Session  Session            `yaml:"session"`
	Tools    Tools              `yaml:"tools"`
	Sandbox  Sandbox            `yaml:"sandbox"`
	Plugins  Plugins            `yaml:"plugins"`

	Memory   *Memory   `yaml:"memory,omitempty"`
	Skills   *Skills   `yaml:"skills,omitempty"`
	Channels []Channel `yaml:"channels,omitempty"`
}

// Gateway configures WebSocket ingress and the bus connection.
type Gateway struct {
	Listen        string   `yaml:"listen"`
	NATSURL       string   `yaml:"nats_url"`
	LaneWatermark int      `yaml:"lane_watermark"`
	DedupeTTL     Duration `yaml:"dedupe_ttl"`
	Breaker       Breaker  `yaml:"breaker"`
}

// Breaker configures the publish circuit breaker.
type Breaker struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	Window           Duration `yaml:"window"`
	Cooldown         Duration `yaml:"cooldown"`
}

// Agent declares one hosted agent.
type Agent struct {
	ID           string `yaml:"id"`
	SystemPrompt string `yaml:"system_prompt"`

	// Model names a profile from the models section. Empty uses the
	// default profile.
	Model string `yaml:"model"`

	Priority int `yaml:"priority"`
	MaxTurns int `yaml:"max_turns"`

	// Tools narrows the global tool policy for this agent.
	Tools policy.Rules `yaml:"tools"`

	PinnedMCPTools []string `yaml:"pinned_mcp_tools"`
}

// Models declares the LLM profiles agents can bind to.
type Models struct {
	Default  string         `yaml:"default"`
	Profiles []ModelProfile `yaml:"profiles"`
}

// ModelProfile is one named provider/model binding.
type ModelProfile struct {
	Name          string `yaml:"name"`
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	ContextWindow int    `yaml:"context_window"`
	ReserveTokens int    `yaml:"reserve_tokens"`
	MaxTokens     int    `yaml:"max_tokens"`
}

// Auth configures gateway authentication.
type Auth struct {
	// Secret is the JWT HMAC secret. Empty trusts upstream: tokens are
	// accepted unverified behind a terminating proxy.
	Secret string `yaml:"secret"`

	AllowAnonymous bool `yaml:"allow_anonymous"`
}

// Session configures the append-only session store.
type Session struct {
	Dir string `yaml:"dir"`
}

// Tools is the global policy layer plus group alias definitions.
type Tools struct {
	Allow  []string            `yaml:"allow"`
	Deny   []string            `yaml:"deny"`
	Groups map[string][]string `yaml:"groups"`
}

// Rules returns the global layer as policy rules.
func (t Tools) Rules() *policy.Rules {
	return &policy.Rules{Allow: t.Allow, Deny: t.Deny}
}

// Sandbox configures shell command routing.
type Sandbox struct {
	Enabled bool   `yaml:"enabled"`
	Image   string `yaml:"image"`
	Workdir string `yaml:"workdir"`

	// YoloMode permits red-level commands outside the sandbox.
	YoloMode bool `yaml:"yolo_mode"`
}

// Plugins configures plugin discovery.
type Plugins struct {
	Dir     string   `yaml:"dir"`
	Enabled []string `yaml:"enabled"`
}

// Memory configures the episodic memory engine.
type Memory struct {
	Path      string          `yaml:"path"`
	Dimension int             `yaml:"dimension"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Flush     FlushSettings   `yaml:"flush"`
	Search    SearchSettings  `yaml:"search"`
}

// EmbeddingConfig names the embedding provider.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// FlushSettings tunes conversation chunking.
type FlushSettings struct {
	TargetTokens   int `yaml:"target_tokens"`
	OverlapTokens  int `yaml:"overlap_tokens"`
	MaxChunkTokens int `yaml:"max_chunk_tokens"`
}

// SearchSettings tunes hybrid retrieval.
type SearchSettings struct {
	VectorWeight float64 `yaml:"vector_weight"`
	BM25Weight   float64 `yaml:"bm25_weight"`
	HalfLifeDays float64 `yaml:"half_life_days"`
	MMRLambda    float64 `yaml:"mmr_lambda"`
}

// Skills configures the skill-markdown loader.
type Skills struct {
	Dir string `yaml:"dir"`
}

// Channel declares one external channel adapter.
type Channel struct {
	Type     string            `yaml:"type"`
	Settings map[string]string `yaml:"settings"`
}

// Load reads, overlays, and validates a configuration file. The format
// follows the extension: .json and .json5 parse as JSON5, everything
// else as YAML.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw, filepath.Ext(path), os.Environ())
}

// Parse decodes a config document and applies the environment overlay.
func Parse(raw []byte, ext string, environ []string) (*Config, error) {
	doc, err := decodeDocument(raw, ext)
	if err != nil {
		return nil, err
	}
	if err := checkSections(doc); err != nil {
		return nil, err
	}
	applyEnvOverlay(doc, environ)

	// Re-encode the overlaid document and strict-decode it into the
	// typed config so misspelled nested keys are rejected too.
	buf, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func decodeDocument(raw []byte, ext string) (map[string]any, error) {
	doc := make(map[string]any)
	switch strings.ToLower(ext) {
	case ".json", ".json5":
		if err := json5.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	return doc, nil
}

// checkSections requires every mandatory section and rejects unknown
// top-level keys.
func checkSections(doc map[string]any) error {
	known := make(map[string]bool)
	for _, s := range requiredSections {
		known[s] = true
	}
	for _, s := range optionalSections {
		known[s] = true
	}

	var unknown []string
	for key := range doc {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown top-level config keys: %s", strings.Join(unknown, ", "))
	}

	var missing []string
	for _, s := range requiredSections {
		if _, ok := doc[s]; !ok {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config sections: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) validate() error {
	profiles := make(map[string]bool)
	for i, p := range c.Models.Profiles {
		if p.Name == "" {
			return fmt.Errorf("models.profiles[%d]: name is required", i)
		}
		if profiles[p.Name] {
			return fmt.Errorf("models.profiles: duplicate profile %q", p.Name)
		}
		profiles[p.Name] = true
	}
	if c.Models.Default != "" && !profiles[c.Models.Default] {
		return fmt.Errorf("models.default: unknown profile %q", c.Models.Default)
	}

	agents := make(map[string]bool)
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d]: id is required", i)
		}
		if agents[a.ID] {
			return fmt.Errorf("agents: duplicate agent %q", a.ID)
		}
		agents[a.ID] = true
		if a.Model != "" && !profiles[a.Model] {
			return fmt.Errorf("agents[%d] (%s): unknown model profile %q", i, a.ID, a.Model)
		}
	}

	for i, b := range c.Bindings {
		if b.AgentID == "" {
			return fmt.Errorf("bindings[%d]: agent_id is required", i)
		}
		if !agents[b.AgentID] {
			return fmt.Errorf("bindings[%d]: unknown agent %q", i, b.AgentID)
		}
	}

	for i, ch := range c.Channels {
		if ch.Type == "" {
			return fmt.Errorf("channels[%d]: type is required", i)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Gateway.Listen == "" {
		c.Gateway.Listen = ":8080"
	}
	if c.Gateway.NATSURL == "" {
		c.Gateway.NATSURL = "nats://127.0.0.1:4222"
	}
	if c.Gateway.LaneWatermark <= 0 {
		c.Gateway.LaneWatermark = 1024
	}
	if c.Gateway.DedupeTTL <= 0 {
		c.Gateway.DedupeTTL = Duration(24 * time.Hour)
	}
	if c.Gateway.Breaker.FailureThreshold <= 0 {
		c.Gateway.Breaker.FailureThreshold = 5
	}
	if c.Gateway.Breaker.Window <= 0 {
		c.Gateway.Breaker.Window = Duration(30 * time.Second)
	}
	if c.Gateway.Breaker.Cooldown <= 0 {
		c.Gateway.Breaker.Cooldown = Duration(30 * time.Second)
	}
	if c.Session.Dir == "" {
		c.Session.Dir = "data/sessions"
	}
	if c.Memory != nil {
		if c.Memory.Path == "" {
			c.Memory.Path = "data/memory.db"
		}
		if c.Memory.Dimension <= 0 {
			c.Memory.Dimension = 1536
		}
	}
}

// Profile resolves an agent's model profile: the named one, the declared
// default, or the first profile.
func (c *Config) Profile(name string) (*ModelProfile, bool) {
	if name == "" {
		name = c.Models.Default
		if name == "" && len(c.Models.Profiles) > 0 {
			name = c.Models.Profiles[0].Name
		}
	}
	for i := range c.Models.Profiles {
		if c.Models.Profiles[i].Name == name {
			return &c.Models.Profiles[i], true
		}
	}
	return nil, false
}
