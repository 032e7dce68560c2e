package policy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// ConditionKind selects a condition's predicate.
type ConditionKind string

// Condition kinds. Conditions are a tagged variant set evaluated against
// the structured context, never interpreted strings; cel is the escape
// valve for CUSTOM policies.
const (
	ConditionEquality   ConditionKind = "equality"
	ConditionMembership ConditionKind = "membership"
	ConditionOwnership  ConditionKind = "ownership"
	ConditionTimeWindow ConditionKind = "time_window"
	ConditionCEL        ConditionKind = "cel"
)

// defaultOwnerAttribute is the resource data key consulted by an
// ownership condition when none is configured.
const defaultOwnerAttribute = "ownerId"

// Condition is one predicate within a rule. The fields consulted depend
// on Kind; the remainder are ignored.
type Condition struct {
	Kind ConditionKind `json:"kind" yaml:"kind"`

	// Attribute is a dotted path into the evaluation context, e.g.
	// "subject.role" or "resource.data.region". Used by equality and
	// membership.
	Attribute string `json:"attribute,omitempty" yaml:"attribute,omitempty"`

	// Value is the expected value for an equality condition.
	Value interface{} `json:"value,omitempty" yaml:"value,omitempty"`

	// Values is the allowed set for a membership condition.
	Values []interface{} `json:"values,omitempty" yaml:"values,omitempty"`

	// OwnerAttribute is the resource data key holding the owner id for
	// an ownership condition. Defaults to "ownerId".
	OwnerAttribute string `json:"ownerAttribute,omitempty" yaml:"ownerAttribute,omitempty"`

	// NotBefore and NotAfter bound a time_window condition. A nil bound
	// is open.
	NotBefore *time.Time `json:"notBefore,omitempty" yaml:"notBefore,omitempty"`
	NotAfter  *time.Time `json:"notAfter,omitempty" yaml:"notAfter,omitempty"`

	// Expression is a CEL expression over {subject, resource, action,
	// environment, metadata} for a cel condition.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Validate checks that the fields required by the kind are present.
func (c *Condition) Validate() error {
	switch c.Kind {
	case ConditionEquality:
		if c.Attribute == "" {
			return fmt.Errorf("equality condition requires an attribute")
		}
	case ConditionMembership:
		if c.Attribute == "" {
			return fmt.Errorf("membership condition requires an attribute")
		}
		if len(c.Values) == 0 {
			return fmt.Errorf("membership condition requires values")
		}
	case ConditionOwnership:
		// OwnerAttribute is optional.
	case ConditionTimeWindow:
		if c.NotBefore == nil && c.NotAfter == nil {
			return fmt.Errorf("time_window condition requires a bound")
		}
	case ConditionCEL:
		if c.Expression == "" {
			return fmt.Errorf("cel condition requires an expression")
		}
	default:
		return fmt.Errorf("unknown condition kind: %s", c.Kind)
	}
	return nil
}

// attributeEquals compares context and condition values after string
// normalization, tolerating numeric type drift from JSON round-trips.
func attributeEquals(got, want interface{}) bool {
	return fmt.Sprintf("%v", got) == fmt.Sprintf("%v", want)
}

// lookupAttribute walks a dotted path through the context attributes.
func lookupAttribute(attrs map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = attrs
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// celCompiler compiles CEL expressions once and caches the programs.
type celCompiler struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// newCELCompiler creates the compiler with the evaluation-context
// variables declared.
func newCELCompiler() (*celCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("subject", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("resource", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("action", cel.StringType),
		cel.Variable("environment", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &celCompiler{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// program returns the compiled program for an expression, compiling it
// on first use.
func (c *celCompiler) program(expression string) (cel.Program, error) {
	c.mu.RLock()
	program, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program: %w", err)
	}

	c.mu.Lock()
	c.programs[expression] = program
	c.mu.Unlock()

	return program, nil
}
