package luaengine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEvaluate(t *testing.T) {
	claims := map[string]any{
		"sub": "subscriber",
		"acr": "3",
		"amr": []any{"SIM_PIN"},
		"iat": json.Number("1700000000"),
	}

	tests := []struct {
		name    string
		script  string
		wantErr error
	}{
		{"empty script", ``, nil},
		{"required claim present", `require_claim("sub")`, nil},
		{"required claim missing", `require_claim("email")`, ErrPolicyRejected},
		{"value match", `require_value("acr", "3")`, nil},
		{"number match", `require_value("iat", 1700000000)`, nil},
		{"value mismatch", `require_value("acr", "2")`, ErrPolicyRejected},
		{"one of", `require_one_of("acr", {"2", "3"})`, nil},
		{"not one of", `require_one_of("acr", {"4"})`, ErrPolicyRejected},
		{"explicit reject", `if get("amr")[1] ~= "PASSWORD" then reject("weak amr") end`, ErrPolicyRejected},
		{"table access", `if not has("amr") or claims.amr[1] ~= "SIM_PIN" then reject() end`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp, err := Compile(tt.script)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			err = cp.Evaluate(context.Background(), claims)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEvaluateSandbox(t *testing.T) {
	for _, script := range []string{`os.exit(1)`, `io.open("/etc/passwd")`, `dofile("/tmp/x.lua")`} {
		cp, err := Compile(script)
		if err != nil {
			t.Fatalf("compile %q: %v", script, err)
		}
		if err := cp.Evaluate(context.Background(), map[string]any{}); err == nil {
			t.Errorf("%q: expected sandbox error", script)
		}
	}
}

func TestEvaluateTimeout(t *testing.T) {
	cp, err := Compile(`while true do end`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	cp.timeout = 50 * time.Millisecond
	if err := cp.Evaluate(context.Background(), nil); !errors.Is(err, ErrLuaTimeout) {
		t.Fatalf("expected ErrLuaTimeout, got %v", err)
	}
}

func TestCompileError(t *testing.T) {
	if _, err := Compile(`this is not lua`); err == nil {
		t.Fatal("expected compile error")
	}
}
