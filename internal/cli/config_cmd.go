package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"promoagent/internal/config"
	"promoagent/internal/domain"
)

// ConfigOptions holds options for the config command.
type ConfigOptions struct {
	ConfigPath string // JSON or YAML file
	Action     string // "get", "set", or "unset"
	Path       string // dot notation, e.g. "gateway.port"
	Value      string // for set
}

// RunConfig runs the config subcommand: non-interactive get/set/unset.
// get reads the effective config, defaults and environment included. set and
// unset edit the file, validate the result and save it.
// Returns exit code (0 for success, 1 for error).
func RunConfig(opts ConfigOptions, stdout, stderr io.Writer) int {
	if opts.ConfigPath == "" {
		opts.ConfigPath = config.DefaultPath
	}
	if opts.Path == "" {
		fmt.Fprintln(stderr, "Error: a config path is required (e.g. gateway.port)")
		return 1
	}
	parts := strings.Split(opts.Path, ".")

	switch opts.Action {
	case "get":
		return runConfigGet(opts.ConfigPath, parts, stdout, stderr)
	case "set", "unset":
	default:
		fmt.Fprintf(stderr, "Error: unknown action %q (use 'get', 'set', or 'unset')\n", opts.Action)
		return 1
	}

	raw, err := readRawConfig(opts.ConfigPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "Error: no configuration found at %s\n", opts.ConfigPath)
			fmt.Fprintln(stderr, "Run 'promoagent check --fix' first to create one.")
			return 1
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if opts.Action == "set" {
		err = setValueAtPathFn(raw, parts, parseValue(opts.Value))
	} else {
		err = unsetValueAtPath(raw, parts)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	cfg, err := decodeConfig(raw)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := configSave(opts.ConfigPath, cfg); err != nil {
		fmt.Fprintf(stderr, "Error: failed to save config: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

func runConfigGet(path string, parts []string, stdout, stderr io.Writer) int {
	cfg, err := configLoad(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = configLoad("")
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	var view map[string]interface{}
	b, _ := json.Marshal(cfg)
	_ = json.Unmarshal(b, &view)

	value := getValueAtPath(view, parts)
	if value == nil {
		fmt.Fprintf(stderr, "Error: path %q not found in config\n", strings.Join(parts, "."))
		return 1
	}
	switch v := value.(type) {
	case string:
		fmt.Fprintln(stdout, v)
	case float64:
		if v == float64(int64(v)) {
			fmt.Fprintf(stdout, "%d\n", int64(v))
		} else {
			fmt.Fprintf(stdout, "%g\n", v)
		}
	case bool:
		fmt.Fprintf(stdout, "%t\n", v)
	default:
		jsonBytes, _ := json.Marshal(v)
		fmt.Fprintln(stdout, string(jsonBytes))
	}
	return 0
}

// readRawConfig reads a config file as a generic map. JSON is valid YAML, so
// one decoder serves both formats.
func readRawConfig(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return raw, nil
}

// decodeConfig lays raw over the defaults and validates the result. Keys
// missing from raw keep their default values.
func decodeConfig(raw map[string]interface{}) (*domain.Config, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("config encode: %w", err)
	}
	cfg := config.Defaults()
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseValue reads a command-line value as a number or bool, otherwise
// keeping it as a string.
func parseValue(value string) interface{} {
	if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
		return float64(intVal)
	}
	if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
		return floatVal
	}
	if boolVal, err := strconv.ParseBool(value); err == nil {
		return boolVal
	}
	return value
}

// getValueAtPath retrieves a value from a nested map using a path.
func getValueAtPath(data map[string]interface{}, path []string) interface{} {
	if len(path) == 0 {
		return nil
	}
	value, exists := data[path[0]]
	if !exists {
		return nil
	}
	if len(path) == 1 {
		return value
	}
	nextMap, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	return getValueAtPath(nextMap, path[1:])
}

// setValueAtPath sets a value in a nested map, creating missing levels.
func setValueAtPath(data map[string]interface{}, path []string, value interface{}) error {
	if len(path) == 0 {
		return fmt.Errorf("empty path")
	}
	if len(path) == 1 {
		data[path[0]] = value
		return nil
	}
	nextMap, ok := data[path[0]].(map[string]interface{})
	if !ok {
		nextMap = make(map[string]interface{})
		data[path[0]] = nextMap
	}
	return setValueAtPath(nextMap, path[1:], value)
}

// unsetValueAtPath removes a value from a nested map using a path.
func unsetValueAtPath(data map[string]interface{}, path []string) error {
	if len(path) == 0 {
		return fmt.Errorf("empty path")
	}
	if len(path) == 1 {
		delete(data, path[0])
		return nil
	}
	nextValue, exists := data[path[0]]
	if !exists {
		return fmt.Errorf("path %q not found", strings.Join(path, "."))
	}
	nextMap, ok := nextValue.(map[string]interface{})
	if !ok {
		return fmt.Errorf("path %q is not an object", strings.Join(path[:len(path)-1], "."))
	}
	return unsetValueAtPath(nextMap, path[1:])
}
