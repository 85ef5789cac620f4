package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tg2fibery/internal/engine"
	"github.com/roach88/tg2fibery/internal/fibery"
)

// Scenario defines one end-to-end sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Limit is the fetch limit for every run. Default 1.
	Limit int `yaml:"limit,omitempty"`

	// Runs is how many times the job runs against the same services. Default 1.
	Runs int `yaml:"runs,omitempty"`

	// Updates are raw getUpdates envelopes, served in order on every run.
	Updates []map[string]any `yaml:"updates"`

	// SourceStatus, if set, makes every getUpdates call answer with this status.
	SourceStatus int `yaml:"source_status,omitempty"`

	// Existing entities are in the workspace before the first run.
	Existing []ExistingEntity `yaml:"existing,omitempty"`

	// Unlinked sync keys get entities without a linked document.
	Unlinked []string `yaml:"unlinked,omitempty"`

	// Faults make matching workspace calls fail.
	Faults []FaultSpec `yaml:"faults,omitempty"`

	// Schema overrides workspace field names. Blank fields take defaults.
	Schema SchemaSpec `yaml:"schema,omitempty"`

	// Golden enables comparison with testdata/golden/<name>.golden.
	Golden bool `yaml:"golden,omitempty"`

	// Assertions validate the trace, the reports and the final workspace.
	Assertions []Assertion `yaml:"assertions"`
}

// ExistingEntity is an entity created by an earlier, out-of-scenario run.
type ExistingEntity struct {
	ID      string `yaml:"id"`
	SyncKey string `yaml:"sync_key"`
	Content string `yaml:"content"`
}

// SchemaSpec is the YAML form of fibery.Schema.
type SchemaSpec struct {
	Type          string `yaml:"type,omitempty"`
	SyncKeyField  string `yaml:"sync_key_field,omitempty"`
	DocumentField string `yaml:"document_field,omitempty"`
}

func (s SchemaSpec) schema() fibery.Schema {
	return fibery.Schema{
		Type:          s.Type,
		SyncKeyField:  s.SyncKeyField,
		DocumentField: s.DocumentField,
	}.WithDefaults()
}

// FaultSpec is the YAML form of fiberytest.Fault.
type FaultSpec struct {
	Operation string `yaml:"operation"`
	SyncKey   string `yaml:"sync_key,omitempty"`
	Status    int    `yaml:"status,omitempty"`
	Message   string `yaml:"message,omitempty"`
}

// Assertion validates one property of a scenario result.
type Assertion struct {
	// Type specifies the assertion type:
	// - "call_count": Operation was called exactly Count times
	// - "create_order": create_entity calls carried SyncKeys, in order
	// - "document_content": the entity for SyncKey holds Content
	// - "entity_count": the workspace holds Count entities
	// - "outcome": the update for SyncKey ended in State (and Stage)
	// - "summary": the run report renders as Summary
	// - "fetch_failed": the run failed with the source unavailable
	Type string `yaml:"type"`

	// Run restricts the assertion to one run (1-based). 0 means every run
	// for trace assertions and the last run for report assertions.
	Run int `yaml:"run,omitempty"`

	Operation string   `yaml:"operation,omitempty"`
	Count     int      `yaml:"count,omitempty"`
	SyncKey   string   `yaml:"sync_key,omitempty"`
	SyncKeys  []string `yaml:"sync_keys,omitempty"`
	Content   string   `yaml:"content,omitempty"`
	State     string   `yaml:"state,omitempty"`
	Stage     string   `yaml:"stage,omitempty"`
	Summary   string   `yaml:"summary,omitempty"`
}

// Assertion type constants.
const (
	AssertCallCount       = "call_count"
	AssertCreateOrder     = "create_order"
	AssertDocumentContent = "document_content"
	AssertEntityCount     = "entity_count"
	AssertOutcome         = "outcome"
	AssertSummary         = "summary"
	AssertFetchFailed     = "fetch_failed"
)

// OpFetchUpdates names getUpdates calls in the trace.
const OpFetchUpdates = "fetch_updates"

var knownOperations = map[string]bool{
	OpFetchUpdates:                 true,
	string(fibery.OpFindBySyncKey): true,
	string(fibery.OpCreateEntity):  true,
	string(fibery.OpResolveSecret): true,
	string(fibery.OpPushContent):   true,
}

var knownStates = map[string]bool{
	string(engine.StateSkipped): true,
	string(engine.StatePushed):  true,
	string(engine.StateFailed):  true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields, or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML, rejecting unknown fields.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// runs returns the effective run count.
func (s *Scenario) runs() int {
	if s.Runs < 1 {
		return 1
	}
	return s.Runs
}

// limit returns the effective fetch limit.
func (s *Scenario) limit() int {
	if s.Limit < 1 {
		return 1
	}
	return s.Limit
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Runs < 0 {
		return fmt.Errorf("runs must be non-negative")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, e := range s.Existing {
		if e.ID == "" || e.SyncKey == "" {
			return fmt.Errorf("existing[%d]: id and sync_key are required", i)
		}
	}
	for i, f := range s.Faults {
		if !knownOperations[f.Operation] || f.Operation == OpFetchUpdates {
			return fmt.Errorf("faults[%d]: unknown workspace operation %q", i, f.Operation)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], s.runs()); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion, runs int) error {
	if a.Run < 0 || a.Run > runs {
		return fmt.Errorf("assertions[%d]: run %d out of range 1..%d", index, a.Run, runs)
	}

	switch a.Type {
	case AssertCallCount:
		if !knownOperations[a.Operation] {
			return fmt.Errorf("assertions[%d]: unknown operation %q for call_count", index, a.Operation)
		}
	case AssertCreateOrder:
		if a.SyncKeys == nil {
			return fmt.Errorf("assertions[%d]: sync_keys is required for create_order", index)
		}
	case AssertDocumentContent:
		if a.SyncKey == "" {
			return fmt.Errorf("assertions[%d]: sync_key is required for document_content", index)
		}
	case AssertEntityCount:
	case AssertOutcome:
		if a.SyncKey == "" {
			return fmt.Errorf("assertions[%d]: sync_key is required for outcome", index)
		}
		if !knownStates[a.State] {
			return fmt.Errorf("assertions[%d]: state must be SKIPPED, PUSHED or FAILED", index)
		}
	case AssertSummary:
		if a.Summary == "" {
			return fmt.Errorf("assertions[%d]: summary is required", index)
		}
	case AssertFetchFailed:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
