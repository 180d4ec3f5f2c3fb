// Package workspace manages the 1:1 mapping between users and remote AI
// execution contexts: provisioning, configuration, and the sync protocol
// that pushes canonical prompt and document state outward. Configuration
// flows one way only; the remote side is never read back to resolve
// conflicts.
package workspace

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/soullink/soullink/pkg/types"
)

// VariantConfig is the prompt material for one companion variant.
type VariantConfig struct {
	// Template is the system prompt template with {{persona}},
	// {{memory}}, {{user_name}}, {{companion_name}}, {{language}} and
	// {{current_model}} placeholders.
	Template string

	// Persona is the default persona block inserted for {{persona}}.
	Persona string

	// CompanionName is the default companion name for the variant.
	CompanionName string
}

// Snapshot is one immutable version of the canonical configuration.
// A new snapshot is built for every change; existing snapshots are
// never mutated, so a reconciliation pass holding one sees a stable
// view no matter how often the config reloads underneath it.
type Snapshot struct {
	PromptVersion   int64
	DocumentVersion int64

	ChatProvider string
	ChatModel    string
	ChatMode     string
	Temperature  float64
	History      int

	// Documents are the docpaths every workspace should have embedded.
	Documents []string

	Variants map[types.Variant]VariantConfig
}

// Variant returns the config for v, falling back to the female variant
// when v is unknown or missing (mirrors the template fallback on disk).
func (s *Snapshot) Variant(v types.Variant) VariantConfig {
	if vc, ok := s.Variants[v]; ok {
		return vc
	}
	return s.Variants[types.VariantFemale]
}

// manifest is the on-disk form of the canonical config.
type manifest struct {
	PromptVersion   int64   `yaml:"prompt_version"`
	DocumentVersion int64   `yaml:"document_version"`
	ChatProvider    string  `yaml:"chat_provider"`
	ChatModel       string  `yaml:"chat_model"`
	ChatMode        string  `yaml:"chat_mode"`
	Temperature     float64 `yaml:"temperature"`
	History         int     `yaml:"history"`

	Documents []string `yaml:"documents"`

	Variants map[string]struct {
		TemplateFile  string `yaml:"template_file"`
		PersonaFile   string `yaml:"persona_file"`
		CompanionName string `yaml:"companion_name"`
	} `yaml:"variants"`
}

// ManifestName is the canonical config manifest inside the config dir.
const ManifestName = "canonical.yaml"

// Canonical owns the current configuration snapshot. Reads are a single
// atomic pointer load; reloads build a complete new snapshot and swap
// it in.
type Canonical struct {
	dir     string
	current atomic.Pointer[Snapshot]

	// reloadMu serializes Reload so the version-regression check is not
	// racy between two concurrent reloads.
	reloadMu sync.Mutex
}

// LoadCanonical reads the manifest and template files under dir.
func LoadCanonical(dir string) (*Canonical, error) {
	c := &Canonical{dir: dir}
	snap, err := c.read()
	if err != nil {
		return nil, err
	}
	c.current.Store(snap)
	log.Printf("Loaded canonical config: prompt v%d, documents v%d, %d variants",
		snap.PromptVersion, snap.DocumentVersion, len(snap.Variants))
	return c, nil
}

// Snapshot returns the current immutable snapshot.
func (c *Canonical) Snapshot() *Snapshot {
	return c.current.Load()
}

// Reload re-reads the config from disk and swaps in a new snapshot.
// Version regressions are rejected: the administrative flow is to bump
// a version when content changes, and a lower version on disk means a
// stale or mangled manifest.
func (c *Canonical) Reload() (*Snapshot, error) {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	snap, err := c.read()
	if err != nil {
		return nil, err
	}

	old := c.current.Load()
	if snap.PromptVersion < old.PromptVersion || snap.DocumentVersion < old.DocumentVersion {
		return nil, fmt.Errorf("canonical config version regression: prompt %d -> %d, documents %d -> %d",
			old.PromptVersion, snap.PromptVersion, old.DocumentVersion, snap.DocumentVersion)
	}

	c.current.Store(snap)
	if snap.PromptVersion != old.PromptVersion || snap.DocumentVersion != old.DocumentVersion {
		log.Printf("Canonical config advanced: prompt v%d -> v%d, documents v%d -> v%d",
			old.PromptVersion, snap.PromptVersion, old.DocumentVersion, snap.DocumentVersion)
	}
	return snap, nil
}

func (c *Canonical) read() (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("read canonical manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse canonical manifest: %w", err)
	}

	snap := &Snapshot{
		PromptVersion:   m.PromptVersion,
		DocumentVersion: m.DocumentVersion,
		ChatProvider:    m.ChatProvider,
		ChatModel:       m.ChatModel,
		ChatMode:        m.ChatMode,
		Temperature:     m.Temperature,
		History:         m.History,
		Documents:       append([]string(nil), m.Documents...),
		Variants:        make(map[types.Variant]VariantConfig, len(m.Variants)),
	}
	if snap.ChatMode == "" {
		snap.ChatMode = "chat"
	}
	if snap.Temperature == 0 {
		snap.Temperature = 0.7
	}
	if snap.History == 0 {
		snap.History = 30
	}

	for name, v := range m.Variants {
		variant := types.Variant(name)
		if !types.IsValidVariant(variant) {
			return nil, fmt.Errorf("canonical manifest: unknown variant %q", name)
		}

		template, err := c.readTemplate(v.TemplateFile)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", name, err)
		}
		persona, err := c.readTemplate(v.PersonaFile)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", name, err)
		}

		snap.Variants[variant] = VariantConfig{
			Template:      template,
			Persona:       persona,
			CompanionName: v.CompanionName,
		}
	}

	if _, ok := snap.Variants[types.VariantFemale]; !ok {
		return nil, fmt.Errorf("canonical manifest: the %s variant is required", types.VariantFemale)
	}

	return snap, nil
}

func (c *Canonical) readTemplate(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	data, err := os.ReadFile(filepath.Join(c.dir, name))
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}
