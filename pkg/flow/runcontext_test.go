package flow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wehubfusion/Daedalus/pkg/flow"
)

func TestRunContextRecurseSignal(t *testing.T) {
	rc := flow.NewRunContext(nil)

	assert.False(t, rc.TakeRecurse())

	rc.Recurse()
	assert.True(t, rc.TakeRecurse(), "a pending request is consumed")
	assert.False(t, rc.TakeRecurse(), "consuming clears the request")
}

func TestRunContextRecurseSharedAcrossCycles(t *testing.T) {
	rc := flow.NewRunContext(nil)
	cycled := rc.WithCycle(3)

	assert.Equal(t, 3, cycled.Cycle())
	assert.Equal(t, 0, rc.Cycle())

	cycled.Recurse()
	assert.True(t, rc.TakeRecurse(), "derived contexts share the recurse signal")
}

func TestRunContextParamsCopy(t *testing.T) {
	rc := flow.NewRunContext(map[string]any{"key": "value"})

	params := rc.Params()
	params["key"] = "mutated"

	assert.Equal(t, "value", rc.Param("key"), "Params returns a copy")
	assert.Equal(t, "value", rc.ParamString("key"))
	assert.Equal(t, "", rc.ParamString("missing"))
}

func TestStateAccessors(t *testing.T) {
	s := flow.State{
		"str":   "hello",
		"int":   42,
		"json":  float64(7),
		"bool":  true,
		"float": 1.5,
		"slice": []any{"a"},
		"map":   map[string]any{"k": "v"},
	}

	assert.True(t, s.Has("str"))
	assert.False(t, s.Has("absent"))
	assert.Equal(t, "hello", s.GetString("str"))
	assert.Equal(t, "fallback", s.GetStringDefault("absent", "fallback"))
	assert.Equal(t, 42, s.GetInt("int"))
	assert.Equal(t, 7, s.GetInt("json"), "JSON numbers decode as float64")
	assert.True(t, s.GetBool("bool"))
	assert.Equal(t, 1.5, s.GetFloat("float"))
	assert.Equal(t, []any{"a"}, s.GetSlice("slice"))
	assert.Equal(t, map[string]any{"k": "v"}, s.GetMap("map"))
}

func TestStateCloneIsShallow(t *testing.T) {
	nested := map[string]any{"count": 1}
	s := flow.State{"top": "original", "nested": nested}

	clone := s.Clone()
	clone["top"] = "changed"
	clone.GetMap("nested")["count"] = 2

	assert.Equal(t, "original", s.GetString("top"), "top-level keys are isolated")
	assert.Equal(t, 2, nested["count"], "nested values stay aliased")
}
