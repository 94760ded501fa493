package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"promoagent/internal/config"
	"promoagent/internal/domain"
)

func writeDefaultYAML(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "promoagent.yaml")
	if err := config.WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	return path
}

func runConfig(opts ConfigOptions) (int, string, string) {
	var out, errOut bytes.Buffer
	code := RunConfig(opts, &out, &errOut)
	return code, out.String(), errOut.String()
}

// =============================================================================
// get
// =============================================================================

func TestRunConfig_Get_WhenFileMissing_ShouldReadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none.yaml")
	code, out, errOut := runConfig(ConfigOptions{ConfigPath: path, Action: "get", Path: "tools.maxLimit"})
	if code != 0 {
		t.Fatalf("code = %d, stderr %q", code, errOut)
	}
	if strings.TrimSpace(out) != "100" {
		t.Errorf("got %q, want 100", out)
	}
}

func TestRunConfig_Get_ShouldPrintStringsAndObjects(t *testing.T) {
	path := writeDefaultYAML(t)

	_, out, _ := runConfig(ConfigOptions{ConfigPath: path, Action: "get", Path: "tools.timeout"})
	if strings.TrimSpace(out) != "5s" {
		t.Errorf("timeout = %q, want 5s", out)
	}
	_, out, _ = runConfig(ConfigOptions{ConfigPath: path, Action: "get", Path: "log"})
	if !strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("object should print as JSON, got %q", out)
	}
}

func TestRunConfig_Get_WhenPathUnknown_ShouldExitOne(t *testing.T) {
	path := writeDefaultYAML(t)
	code, _, errOut := runConfig(ConfigOptions{ConfigPath: path, Action: "get", Path: "gateway.nope"})
	if code != 1 || !strings.Contains(errOut, "not found") {
		t.Errorf("code = %d, stderr %q", code, errOut)
	}
}

// =============================================================================
// set / unset
// =============================================================================

func TestRunConfig_Set_ShouldPersistValidatedValue(t *testing.T) {
	path := writeDefaultYAML(t)

	code, out, errOut := runConfig(ConfigOptions{ConfigPath: path, Action: "set", Path: "gateway.port", Value: "9090"})
	if code != 0 {
		t.Fatalf("code = %d, stderr %q", code, errOut)
	}
	if strings.TrimSpace(out) != "ok" {
		t.Errorf("stdout = %q", out)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Gateway.Port)
	}
}

func TestRunConfig_Set_WhenValueInvalid_ShouldLeaveFileUntouched(t *testing.T) {
	path := writeDefaultYAML(t)
	before, _ := os.ReadFile(path)

	code, _, errOut := runConfig(ConfigOptions{ConfigPath: path, Action: "set", Path: "agent.provider", Value: "anthropic"})
	if code != 1 {
		t.Errorf("code = %d, want 1", code)
	}
	if !strings.Contains(errOut, "config invalid") {
		t.Errorf("stderr = %q", errOut)
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Error("file changed after a rejected set")
	}
}

func TestRunConfig_Set_DurationString_ShouldParse(t *testing.T) {
	path := writeDefaultYAML(t)
	if code, _, errOut := runConfig(ConfigOptions{ConfigPath: path, Action: "set", Path: "tools.timeout", Value: "2s"}); code != 0 {
		t.Fatalf("code = %d, stderr %q", code, errOut)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tools.Timeout.Std().Seconds() != 2 {
		t.Errorf("timeout = %v, want 2s", cfg.Tools.Timeout.Std())
	}
}

func TestRunConfig_Unset_ShouldRestoreDefault(t *testing.T) {
	path := writeDefaultYAML(t)
	runConfig(ConfigOptions{ConfigPath: path, Action: "set", Path: "gateway.port", Value: "9090"})

	code, _, errOut := runConfig(ConfigOptions{ConfigPath: path, Action: "unset", Path: "gateway.port"})
	if code != 0 {
		t.Fatalf("code = %d, stderr %q", code, errOut)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != config.Defaults().Gateway.Port {
		t.Errorf("port = %d, want default", cfg.Gateway.Port)
	}
}

func TestRunConfig_Set_WhenFileMissing_ShouldExitOne(t *testing.T) {
	code, _, errOut := runConfig(ConfigOptions{ConfigPath: filepath.Join(t.TempDir(), "x.yaml"), Action: "set", Path: "gateway.port", Value: "1"})
	if code != 1 || !strings.Contains(errOut, "check --fix") {
		t.Errorf("code = %d, stderr %q", code, errOut)
	}
}

func TestRunConfig_Set_WhenFileCorrupt_ShouldExitOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("gateway: [unclosed"), 0644)
	code, _, errOut := runConfig(ConfigOptions{ConfigPath: path, Action: "set", Path: "gateway.port", Value: "1"})
	if code != 1 || !strings.Contains(errOut, "failed to parse config") {
		t.Errorf("code = %d, stderr %q", code, errOut)
	}
}

func TestRunConfig_WhenSetValueFails_ShouldExitOne(t *testing.T) {
	path := writeDefaultYAML(t)
	orig := setValueAtPathFn
	setValueAtPathFn = func(map[string]interface{}, []string, interface{}) error { return errors.New("injected") }
	defer func() { setValueAtPathFn = orig }()

	code, _, errOut := runConfig(ConfigOptions{ConfigPath: path, Action: "set", Path: "gateway.port", Value: "1"})
	if code != 1 || !strings.Contains(errOut, "injected") {
		t.Errorf("code = %d, stderr %q", code, errOut)
	}
}

func TestRunConfig_WhenSaveFails_ShouldExitOne(t *testing.T) {
	path := writeDefaultYAML(t)
	orig := configSave
	configSave = func(string, *domain.Config) error { return errors.New("disk full") }
	defer func() { configSave = orig }()

	code, _, errOut := runConfig(ConfigOptions{ConfigPath: path, Action: "set", Path: "gateway.port", Value: "1"})
	if code != 1 || !strings.Contains(errOut, "disk full") {
		t.Errorf("code = %d, stderr %q", code, errOut)
	}
}

func TestRunConfig_WhenActionUnknown_ShouldExitOne(t *testing.T) {
	code, _, errOut := runConfig(ConfigOptions{Action: "frobnicate", Path: "a"})
	if code != 1 || !strings.Contains(errOut, "unknown action") {
		t.Errorf("code = %d, stderr %q", code, errOut)
	}
}

func TestRunConfig_WhenPathEmpty_ShouldExitOne(t *testing.T) {
	if code, _, _ := runConfig(ConfigOptions{Action: "get"}); code != 1 {
		t.Errorf("code = %d, want 1", code)
	}
}

// =============================================================================
// Path helpers
// =============================================================================

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want interface{}
	}{
		{"42", float64(42)},
		{"1.5", 1.5},
		{"true", true},
		{"openai", "openai"},
		{"5s", "5s"},
	}
	for _, tt := range tests {
		if got := parseValue(tt.in); got != tt.want {
			t.Errorf("parseValue(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestSetValueAtPath_ShouldCreateAndReplaceLevels(t *testing.T) {
	data := map[string]interface{}{"agent": "not-a-map"}
	if err := setValueAtPath(data, []string{"agent", "model"}, "m"); err != nil {
		t.Fatal(err)
	}
	if err := setValueAtPath(data, []string{"log", "level"}, "debug"); err != nil {
		t.Fatal(err)
	}
	want := map[string]interface{}{
		"agent": map[string]interface{}{"model": "m"},
		"log":   map[string]interface{}{"level": "debug"},
	}
	if !reflect.DeepEqual(data, want) {
		t.Errorf("got %#v", data)
	}
	if err := setValueAtPath(data, nil, 1); err == nil {
		t.Error("empty path should fail")
	}
}

func TestUnsetValueAtPath_Errors(t *testing.T) {
	data := map[string]interface{}{"log": "flat"}
	if err := unsetValueAtPath(data, nil); err == nil {
		t.Error("empty path should fail")
	}
	if err := unsetValueAtPath(data, []string{"gateway", "port"}); err == nil {
		t.Error("missing parent should fail")
	}
	if err := unsetValueAtPath(data, []string{"log", "level"}); err == nil {
		t.Error("non-object parent should fail")
	}
}

func TestGetValueAtPath_WhenIntermediateNotMap_ShouldReturnNil(t *testing.T) {
	data := map[string]interface{}{"log": "flat"}
	if v := getValueAtPath(data, []string{"log", "level"}); v != nil {
		t.Errorf("got %v", v)
	}
	if v := getValueAtPath(data, nil); v != nil {
		t.Errorf("got %v", v)
	}
}
