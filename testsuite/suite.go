package testsuite

// suite.go contains suite discovery: a suite is a directory holding a
// testcfg.yaml, an optional <name>.status.yaml with expectations and the
// test files themselves.

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/perfgo/testrunner/command"
	"github.com/perfgo/testrunner/statusfile"
	"gopkg.in/yaml.v3"
)

// ConfigFile is the name of the per-suite configuration file.
const ConfigFile = "testcfg.yaml"

// Config is the content of a suite's testcfg.yaml.
type Config struct {
	// Name of the suite, defaults to the directory name
	Name string `yaml:"name"`
	// Shell is the binary under test, resolved against Options.ShellDir
	Shell string `yaml:"shell"`
	// Pattern selects test files by base name, e.g. "*.js"
	Pattern string `yaml:"pattern"`
	// Flags are passed to every test of the suite
	Flags []string `yaml:"flags"`
	// Env is added to the environment of every test
	Env []string `yaml:"env"`
	// NegativePrefixes marks tests expected to exit with a failure
	NegativePrefixes []string `yaml:"negative_prefixes"`
	// StandardVariantOnly disables variant expansion for the suite
	StandardVariantOnly bool `yaml:"standard_variant_only"`
}

// Options controls how test commands are built.
type Options struct {
	// ShellDir is the directory containing the binaries under test
	ShellDir string
	// ExtraFlags are appended to the suite flags of every test
	ExtraFlags []string
	// Timeout of a single attempt
	Timeout time.Duration
}

// Suite is a collection of tests sharing one expectations file.
type Suite struct {
	Name  string
	Root  string
	Tests []*TestCase

	config  Config
	options Options
	rules   *statusfile.Rules
	judge   Judge

	outcomesCache sync.Map
}

// New creates a suite from already loaded rules. A nil judge selects
// DefaultJudge.
func New(name, root string, rules *statusfile.Rules, judge Judge) *Suite {
	if rules == nil {
		rules = statusfile.NewRules()
	}
	if judge == nil {
		judge = DefaultJudge{}
	}
	return &Suite{
		Name:   name,
		Root:   root,
		config: Config{Name: name},
		rules:  rules,
		judge:  judge,
	}
}

// Load reads the suite rooted at root and lists its tests.
func Load(root string, opts Options) (*Suite, error) {
	cfg := Config{
		Name:    filepath.Base(root),
		Shell:   "d8",
		Pattern: "*.js",
	}
	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read suite config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Join(root, ConfigFile), err)
	}
	if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid test pattern %q: %w", cfg.Pattern, err)
	}

	rules, err := statusfile.LoadFile(filepath.Join(root, cfg.Name+".status.yaml"))
	if err != nil {
		return nil, err
	}

	s := New(cfg.Name, root, rules, DefaultJudge{NegativePrefixes: cfg.NegativePrefixes})
	s.config = cfg
	s.options = opts

	if err := s.listTests(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Suite) listTests() error {
	var tests []*TestCase
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(s.config.Pattern, d.Name()); !ok {
			return nil
		}
		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		tests = append(tests, &TestCase{
			ID:    -1,
			Name:  strings.TrimSuffix(rel, filepath.Ext(rel)),
			Path:  rel,
			Suite: s,
			Run:   1,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list tests of suite %s: %w", s.Name, err)
	}

	sort.Slice(tests, func(i, j int) bool { return tests[i].Name < tests[j].Name })
	s.Tests = tests
	return nil
}

// AddTest registers a test with the suite and returns it.
func (s *Suite) AddTest(name, variant string, cmd command.Command) *TestCase {
	tc := &TestCase{
		ID:      -1,
		Name:    name,
		Path:    name,
		Variant: variant,
		Suite:   s,
		Run:     1,
		Cmd:     cmd,
	}
	s.Tests = append(s.Tests, tc)
	return tc
}

// buildCommand returns the invocation of tc with the given variant flags.
func (s *Suite) buildCommand(tc *TestCase, flags []string) command.Command {
	shell := s.config.Shell
	if s.options.ShellDir != "" && !filepath.IsAbs(shell) {
		shell = filepath.Join(s.options.ShellDir, shell)
	}

	args := make([]string, 0, len(s.config.Flags)+len(s.options.ExtraFlags)+len(flags)+1)
	args = append(args, s.config.Flags...)
	args = append(args, s.options.ExtraFlags...)
	args = append(args, flags...)
	args = append(args, filepath.Join(s.Root, filepath.FromSlash(tc.Path)))

	return command.New(shell, args, s.config.Env, s.options.Timeout)
}
