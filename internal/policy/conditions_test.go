package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionValidate(t *testing.T) {
	t.Parallel()

	now := time.Now()

	tests := []struct {
		name      string
		condition Condition
		wantErr   bool
	}{
		{
			name:      "equality ok",
			condition: Condition{Kind: ConditionEquality, Attribute: "subject.role", Value: "user"},
		},
		{
			name:      "equality missing attribute",
			condition: Condition{Kind: ConditionEquality, Value: "user"},
			wantErr:   true,
		},
		{
			name:      "membership ok",
			condition: Condition{Kind: ConditionMembership, Attribute: "subject.role", Values: []interface{}{"user"}},
		},
		{
			name:      "membership without values",
			condition: Condition{Kind: ConditionMembership, Attribute: "subject.role"},
			wantErr:   true,
		},
		{
			name:      "ownership ok",
			condition: Condition{Kind: ConditionOwnership},
		},
		{
			name:      "time window ok",
			condition: Condition{Kind: ConditionTimeWindow, NotBefore: &now},
		},
		{
			name:      "time window without bounds",
			condition: Condition{Kind: ConditionTimeWindow},
			wantErr:   true,
		},
		{
			name:      "cel ok",
			condition: Condition{Kind: ConditionCEL, Expression: `action == "read"`},
		},
		{
			name:      "cel without expression",
			condition: Condition{Kind: ConditionCEL},
			wantErr:   true,
		},
		{
			name:      "unknown kind",
			condition: Condition{Kind: "regex"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.condition.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLookupAttribute(t *testing.T) {
	t.Parallel()

	attrs := map[string]interface{}{
		"subject": map[string]interface{}{"id": "user-1", "role": "user"},
		"resource": map[string]interface{}{
			"name": "Invoice",
			"data": map[string]interface{}{"region": "eu"},
		},
	}

	v, ok := lookupAttribute(attrs, "subject.id")
	require.True(t, ok)
	assert.Equal(t, "user-1", v)

	v, ok = lookupAttribute(attrs, "resource.data.region")
	require.True(t, ok)
	assert.Equal(t, "eu", v)

	_, ok = lookupAttribute(attrs, "resource.data.missing")
	assert.False(t, ok)

	_, ok = lookupAttribute(attrs, "subject.id.deeper")
	assert.False(t, ok)
}

func TestCELCompilerCachesPrograms(t *testing.T) {
	t.Parallel()

	compiler, err := newCELCompiler()
	require.NoError(t, err)

	_, err = compiler.program(`action == "read"`)
	require.NoError(t, err)

	_, err = compiler.program(`action == "read"`)
	require.NoError(t, err)

	compiler.mu.RLock()
	cached := len(compiler.programs)
	compiler.mu.RUnlock()
	assert.Equal(t, 1, cached)
}

func TestCELCompilerRejectsBadExpression(t *testing.T) {
	t.Parallel()

	compiler, err := newCELCompiler()
	require.NoError(t, err)

	_, err = compiler.program(`action ===`)
	require.Error(t, err)
}

func TestAttributeEquals(t *testing.T) {
	t.Parallel()

	assert.True(t, attributeEquals("eu", "eu"))
	assert.True(t, attributeEquals(42, "42"))
	assert.True(t, attributeEquals(float64(42), 42))
	assert.False(t, attributeEquals("eu", "us"))
}
