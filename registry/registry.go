// Package registry loads the catalogue of conformance cases.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-conformance/types"
)

// Registry holds the validated cases of a catalogue
type Registry struct {
	config Config
	cases  []types.TestCase
	mu     sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log           log.Logger
	CatalogueFile string
	// DefaultTimeout is applied to cases that do not set their own.
	DefaultTimeout time.Duration
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.CatalogueFile == "" {
		return nil, fmt.Errorf("catalogue file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{config: cfg}
	if err := r.loadCases(cfg.CatalogueFile); err != nil {
		return nil, fmt.Errorf("failed to load catalogue: %w", err)
	}

	cfg.Log.Debug("Registry loaded", "len(cases)", len(r.cases))
	return r, nil
}

func (r *Registry) loadCases(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	catalogue, err := loadConfig(path)
	if err != nil {
		return err
	}

	baseDir := filepath.Dir(path)
	seen := make(map[string]bool)
	var cases []types.TestCase
	for _, suite := range catalogue.Suites {
		if suite.ID == "" {
			return fmt.Errorf("suite without id")
		}
		for _, tc := range suite.Cases {
			tc.Suite = suite.ID
			tc.ID = suite.ID + "/" + tc.Name
			if seen[tc.ID] {
				return fmt.Errorf("duplicate case %s", tc.ID)
			}
			seen[tc.ID] = true

			if err := r.resolveGrammar(&tc, baseDir); err != nil {
				return fmt.Errorf("case %s: %w", tc.ID, err)
			}
			if err := validateCase(tc); err != nil {
				return fmt.Errorf("case %s: %w", tc.ID, err)
			}
			if tc.Output != nil && *tc.Output == "" {
				// No output and empty output are the same to the executor.
				tc.Output = nil
			}
			if tc.Timeout == nil && r.config.DefaultTimeout > 0 {
				timeout := r.config.DefaultTimeout
				tc.Timeout = &timeout
			}
			cases = append(cases, tc)
		}
	}
	r.cases = cases
	return nil
}

// resolveGrammar reads the grammar from GrammarFile, relative to the
// catalogue, when the case does not inline it.
func (r *Registry) resolveGrammar(tc *types.TestCase, baseDir string) error {
	if tc.Grammar != "" || tc.GrammarFile == "" {
		return nil
	}
	path := tc.GrammarFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read grammar: %w", err)
	}
	tc.Grammar = string(content)
	tc.GrammarFile = filepath.Base(tc.GrammarFile)
	return nil
}

func validateCase(tc types.TestCase) error {
	switch {
	case tc.Name == "":
		return fmt.Errorf("name is required")
	case tc.GrammarFile == "":
		return fmt.Errorf("grammar_file is required")
	case tc.Grammar == "":
		return fmt.Errorf("grammar is required")
	case tc.Lexer == "":
		return fmt.Errorf("lexer is required")
	case tc.Parser != "" && tc.EntryPoint.Name == "":
		return fmt.Errorf("parser cases need an entry_point")
	case tc.Parser == "" && tc.Trace:
		return fmt.Errorf("trace requires a parser")
	}
	return nil
}

// Cases returns all cases in catalogue order.
func (r *Registry) Cases() []types.TestCase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.TestCase, len(r.cases))
	copy(out, r.cases)
	return out
}

// CasesBySuite returns the cases of one suite; an empty id returns all.
func (r *Registry) CasesBySuite(suite string) []types.TestCase {
	if suite == "" {
		return r.Cases()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.TestCase
	for _, tc := range r.cases {
		if tc.Suite == suite {
			out = append(out, tc)
		}
	}
	return out
}

// Suites returns the suite ids, sorted.
func (r *Registry) Suites() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, tc := range r.cases {
		if !seen[tc.Suite] {
			seen[tc.Suite] = true
			out = append(out, tc.Suite)
		}
	}
	sort.Strings(out)
	return out
}

// loadConfig reads a catalogue, picking the format from the file extension.
func loadConfig(path string) (*types.CatalogueConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalogue: %w", err)
	}

	var cfg types.CatalogueConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse catalogue: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse catalogue: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalogue format %q", ext)
	}
	return &cfg, nil
}
