package statusfile

// rules.go loads expectation files into the rule tables consumed by the
// outcome classifier.
//
// An expectations file is a YAML list of sections:
//
//	- rules:                  # variant independent
//	    regress/regress-1234: [PASS, FAIL]
//	    compiler/*: [SKIP]    # trailing '*' makes a prefix rule
//	- variant: stress
//	  rules:
//	    big-array: [SLOW]

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "testrunner://expectations.schema.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

// Rules holds the expectations of one suite. The global rules are stored
// under the empty variant.
type Rules struct {
	// variant -> test name -> outcomes
	Exact map[string]map[string]Outcomes
	// variant -> test name prefix -> outcomes
	Prefix map[string]map[string]Outcomes
}

// NewRules returns an empty rule table.
func NewRules() *Rules {
	return &Rules{
		Exact:  make(map[string]map[string]Outcomes),
		Prefix: make(map[string]map[string]Outcomes),
	}
}

// Add merges outcomes into the rule for key under variant. A key ending
// with '*' registers a prefix rule.
func (r *Rules) Add(variant, key string, outcomes Outcomes) {
	table := r.Exact
	if strings.HasSuffix(key, "*") {
		table = r.Prefix
		key = strings.TrimSuffix(key, "*")
	}
	byName, ok := table[variant]
	if !ok {
		byName = make(map[string]Outcomes)
		table[variant] = byName
	}
	byName[key] = byName[key].Union(outcomes)
}

type section struct {
	Variant string              `yaml:"variant"`
	Rules   map[string][]string `yaml:"rules"`
}

// Load reads an expectations file.
func Load(r io.Reader) (*Rules, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read expectations: %w", err)
	}

	if err := validate(data); err != nil {
		return nil, fmt.Errorf("invalid expectations: %w", err)
	}

	var sections []section
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("failed to parse expectations: %w", err)
	}

	rules := NewRules()
	for _, s := range sections {
		for key, tags := range s.Rules {
			outcomes := NewOutcomes()
			for _, tag := range tags {
				o, err := ParseOutcome(tag)
				if err != nil {
					return nil, fmt.Errorf("rule %q: %w", key, err)
				}
				outcomes[o] = struct{}{}
			}
			rules.Add(s.Variant, key, outcomes)
		}
	}
	return rules, nil
}

// LoadFile reads the expectations file at path. A missing file yields an
// empty rule table: every test is then expected to pass.
func LoadFile(path string) (*Rules, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return NewRules(), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rules, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// validate checks the YAML document against the embedded JSON schema. The
// document is converted to its JSON form first so the validator only sees
// JSON types.
func validate(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc == nil {
		doc = []any{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}

	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	return schema.Validate(payload)
}
