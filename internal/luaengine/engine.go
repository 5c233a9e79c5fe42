// Package luaengine runs sandboxed Lua: claim policies over validated ID
// tokens and configuration scripts.
package luaengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
)

var (
	// ErrLuaTimeout is returned when a script exceeds its time limit.
	ErrLuaTimeout = errors.New("lua script exceeded execution time limit")
	// ErrPolicyRejected wraps every policy violation.
	ErrPolicyRejected = errors.New("claims rejected by policy")
)

// DefaultTimeout is the execution time limit per evaluation.
const DefaultTimeout = 2 * time.Second

// CompiledPolicy holds a compiled Lua script for reuse across calls.
//
// Concurrency: safe for concurrent use. Every evaluation gets its own
// interpreter state; the compiled prototype is read-only.
type CompiledPolicy struct {
	proto   *lua.FunctionProto
	timeout time.Duration
}

// Compile parses and compiles a Lua policy script.
func Compile(script string) (*CompiledPolicy, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	fn, err := L.LoadString(script)
	if err != nil {
		return nil, fmt.Errorf("lua compile error: %w", err)
	}
	return &CompiledPolicy{proto: fn.Proto, timeout: DefaultTimeout}, nil
}

// Evaluate runs the policy against claims. It returns nil when the script
// completes without rejecting.
func (cp *CompiledPolicy) Evaluate(ctx context.Context, claims map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, cp.timeout)
	defer cancel()

	L := NewSandbox()
	defer L.Close()
	L.SetContext(ctx)

	L.SetGlobal("claims", mapToLTable(L, claims))

	var policyErr error
	fail := func(L *lua.LState, format string, args ...any) {
		policyErr = fmt.Errorf("%w: %s", ErrPolicyRejected, fmt.Sprintf(format, args...))
		L.RaiseError("%s", policyErr.Error())
	}

	L.SetGlobal("has", L.NewFunction(func(L *lua.LState) int {
		_, ok := claims[L.CheckString(1)]
		L.Push(lua.LBool(ok))
		return 1
	}))

	L.SetGlobal("get", L.NewFunction(func(L *lua.LState) int {
		val, ok := claims[L.CheckString(1)]
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(goToLua(L, val))
		return 1
	}))

	L.SetGlobal("require_claim", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if _, ok := claims[key]; !ok {
			fail(L, "required claim missing: %s", key)
		}
		return 0
	}))

	L.SetGlobal("require_value", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		val, ok := claims[key]
		if !ok {
			fail(L, "claim %s missing for value check", key)
			return 0
		}
		if !luaValuesMatch(val, L.Get(2)) {
			fail(L, "claim %s value mismatch", key)
		}
		return 0
	}))

	L.SetGlobal("require_one_of", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		tbl := L.CheckTable(2)
		val, ok := claims[key]
		if !ok {
			fail(L, "claim %s missing for one_of check", key)
			return 0
		}
		found := false
		tbl.ForEach(func(_ lua.LValue, v lua.LValue) {
			if luaValuesMatch(val, v) {
				found = true
			}
		})
		if !found {
			fail(L, "claim %s value not in allowed set", key)
		}
		return 0
	}))

	L.SetGlobal("reject", L.NewFunction(func(L *lua.LState) int {
		fail(L, "%s", L.OptString(1, "rejected by lua policy"))
		return 0
	}))

	L.Push(L.NewFunctionFromProto(cp.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrLuaTimeout
		}
		if policyErr != nil {
			return policyErr
		}
		return fmt.Errorf("lua policy error: %w", err)
	}
	return policyErr
}

// NewSandbox returns a Lua state with only the base, table, string and
// math libraries, and without the functions that load code from outside.
func NewSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	return L
}

func mapToLTable(L *lua.LState, m map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range m {
		tbl.RawSetString(k, goToLua(L, v))
	}
	return tbl
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return lua.LNumber(f)
		}
		return lua.LString(val.String())
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case map[string]any:
		return mapToLTable(L, val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, lua.LString(item))
		}
		return tbl
	case nil:
		return lua.LNil
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

func luaValuesMatch(goVal any, luaVal lua.LValue) bool {
	switch lv := luaVal.(type) {
	case lua.LString:
		if s, ok := goVal.(string); ok {
			return s == string(lv)
		}
	case lua.LNumber:
		switch gv := goVal.(type) {
		case json.Number:
			f, err := gv.Float64()
			return err == nil && f == float64(lv)
		case float64:
			return gv == float64(lv)
		case int:
			return float64(gv) == float64(lv)
		case int64:
			return float64(gv) == float64(lv)
		}
	case *lua.LNilType:
		return goVal == nil
	case lua.LBool:
		if b, ok := goVal.(bool); ok {
			return b == bool(lv)
		}
	}
	return false
}
