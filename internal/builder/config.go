package builder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"runtime"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

const ConfigFilename = "qembed.toml"

const (
	BuildTypeRelease = "release"
	BuildTypeDebug   = "debug"
)

var defaultDebugBuildFlags = []string{"-Og", "-g2", "-ggdb2"}

var validate = validator.New()

type Config struct {
	Project ProjectSection         `toml:"project"`
	Env     map[string]*EnvSection `toml:"env"`
}

// ProjectSection defines the [project] section
type ProjectSection struct {
	Name        string   `toml:"name"`
	DefaultEnvs []string `toml:"default_envs"`
	SrcDir      string   `toml:"src_dir"`
	IncludeDir  string   `toml:"include_dir"`
	TestDir     string   `toml:"test_dir"`
	BuildDir    string   `toml:"build_dir"`
	CoreDir     string   `toml:"core_dir"`
}

// EnvSection defines an [env.*] section
type EnvSection struct {
	Platform            string            `toml:"platform" validate:"required"`
	Board               string            `toml:"board"`
	Framework           []string          `toml:"framework"`
	BuildType           string            `toml:"build_type" validate:"omitempty,oneof=release debug"`
	BuildFlags          []string          `toml:"build_flags"`
	SrcBuildFlags       []string          `toml:"src_build_flags"`
	BuildUnflags        []string          `toml:"build_unflags"`
	DebugBuildFlags     []string          `toml:"debug_build_flags"`
	DebugTool           string            `toml:"debug_tool"`
	SrcFilter           []string          `toml:"src_filter"`
	TestFilter          []string          `toml:"test_filter"`
	TestBuildProjectSrc bool              `toml:"test_build_project_src"`
	BoardOverrides      map[string]string `toml:"board_overrides"`
	MonitorPort         string            `toml:"monitor_port"`
	MonitorSpeed        int               `toml:"monitor_speed" validate:"gte=0"`
	MonitorRTS          *int              `toml:"monitor_rts" validate:"omitempty,oneof=0 1"`
	MonitorDTR          *int              `toml:"monitor_dtr" validate:"omitempty,oneof=0 1"`
	MonitorFlags        []string          `toml:"monitor_flags"`
}

func (p *ProjectSection) setDefaults() {
	if p.SrcDir == "" {
		p.SrcDir = "src"
	}
	if p.IncludeDir == "" {
		p.IncludeDir = "include"
	}
	if p.TestDir == "" {
		p.TestDir = "test"
	}
	if p.BuildDir == "" {
		p.BuildDir = ".qembed/build"
	}
}

func (e *EnvSection) setDefaults() {
	if e.BuildType == "" {
		e.BuildType = BuildTypeRelease
	}
	if e.DebugBuildFlags == nil {
		e.DebugBuildFlags = slices.Clone(defaultDebugBuildFlags)
	}
}

// EnvNames resolves the environments to process: the selected ones, else
// default_envs, else every environment sorted by name
func (c *Config) EnvNames(selected []string) ([]string, error) {
	names := selected
	if len(names) == 0 {
		names = c.Project.DefaultEnvs
	}
	if len(names) == 0 {
		for name := range c.Env {
			names = append(names, name)
		}
		slices.Sort(names)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no environments defined in %s", ConfigFilename)
	}
	for _, name := range names {
		if _, ok := c.Env[name]; !ok {
			return nil, fmt.Errorf("unknown environment %q, known environments: %s", name, strings.Join(c.EnvList(), ", "))
		}
	}
	return names, nil
}

// EnvList returns the declared environment names, sorted
func (c *Config) EnvList() []string {
	names := make([]string, 0, len(c.Env))
	for name := range c.Env {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// mergeStructs merges the fields of the src struct into the dst struct
func mergeStructs(dst, src any) error {
	dstVal := reflect.ValueOf(dst)
	if dstVal.Kind() != reflect.Pointer || dstVal.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("dst must be a pointer to a struct")
	}

	dstElem := dstVal.Elem()
	srcVal := reflect.ValueOf(src)

	if srcVal.Kind() == reflect.Pointer {
		srcVal = srcVal.Elem()
	}

	if srcVal.Kind() != reflect.Struct {
		return fmt.Errorf("src must be a struct or a pointer to a struct")
	}

	if dstElem.Type() != srcVal.Type() {
		return fmt.Errorf("dst and src must be of the same struct type")
	}

	for i := range srcVal.NumField() {
		srcField := srcVal.Field(i)
		dstField := dstElem.Field(i)

		if !dstField.CanSet() {
			continue
		}

		switch dstField.Kind() {
		case reflect.Slice:
			if !srcField.IsNil() {
				dstField.Set(reflect.AppendSlice(dstField, srcField))
			}
		case reflect.Map:
			if !srcField.IsNil() {
				if dstField.IsNil() {
					dstField.Set(reflect.MakeMap(dstField.Type()))
				}
				for _, key := range srcField.MapKeys() {
					dstField.SetMapIndex(key, srcField.MapIndex(key))
				}
			}
		case reflect.Bool:
			dstField.SetBool(dstField.Bool() || srcField.Bool())
		default:
			if !srcField.IsZero() {
				dstField.Set(srcField)
			}
		}
	}

	return nil
}

func mustMarshal(v any) string {
	b, err := toml.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// unmarshalSection is a helper to parse sections without conditional logic
func unmarshalSection(rawCfg map[string]any, name string, dst any) error {
	if data, ok := rawCfg[name]; ok {
		if err := toml.Unmarshal([]byte(mustMarshal(data)), dst); err != nil {
			return fmt.Errorf("failed to parse [%s] section: %w", name, err)
		}
	}
	return nil
}

// unmarshalConditionalSection is a helper to parse, evaluate and merge multiple sections with conditional logic
func unmarshalConditionalSection[T any](rawCfg map[string]any, name string, dst *T, env any) error {
	sectionData, ok := rawCfg[name]
	if !ok {
		return nil
	}

	sectionMap, ok := sectionData.(map[string]any)
	if !ok {
		return fmt.Errorf("invalid [%s] section format: expected a table", name)
	}

	baseFields := make(map[string]any)
	conditionalFields := make(map[string]map[string]any)

	for key, val := range sectionMap {
		if subMap, ok := val.(map[string]any); ok {
			_, err := expr.Compile(key, expr.Env(env), expr.AsBool())
			if err == nil {
				conditionalFields[key] = subMap
			} else {
				baseFields[key] = val
			}
		} else {
			baseFields[key] = val
		}
	}

	if len(baseFields) > 0 {
		if err := toml.Unmarshal([]byte(mustMarshal(baseFields)), dst); err != nil {
			return fmt.Errorf("failed to parse base [%s] section: %w", name, err)
		}
	}

	// stable merge order
	expressions := make([]string, 0, len(conditionalFields))
	for expression := range conditionalFields {
		expressions = append(expressions, expression)
	}
	slices.Sort(expressions)

	for _, expression := range expressions {
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return fmt.Errorf("failed to compile expression for [%s.%q]: %w", name, expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return fmt.Errorf("failed to run expression for [%s.%q]: %w", name, expression, err)
		}

		// merge sections if the result is true
		if matched, ok := result.(bool); !ok || !matched {
			continue
		}

		var condSection T
		if err := toml.Unmarshal([]byte(mustMarshal(conditionalFields[expression])), &condSection); err != nil {
			return fmt.Errorf("failed to parse conditional section [%s.%q]: %w", name, expression, err)
		}
		if err := mergeStructs(dst, condSection); err != nil {
			return fmt.Errorf("failed to merge conditional section [%s.%q]: %w", name, expression, err)
		}
	}

	return nil
}

var exprRegex = regexp.MustCompile(`\{\{(.+?)\}\}`)

// evaluateString finds and evaluates all {{...}} expressions in a string
func evaluateString(s string, env any) (string, error) {
	matches := exprRegex.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var builder strings.Builder
	lastIndex := 0

	for _, matchIndexes := range matches {
		fullMatchStart := matchIndexes[0]
		fullMatchEnd := matchIndexes[1]
		expressionStart := matchIndexes[2]
		expressionEnd := matchIndexes[3]

		builder.WriteString(s[lastIndex:fullMatchStart])

		expression := strings.TrimSpace(s[expressionStart:expressionEnd])
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return "", fmt.Errorf("failed to compile expression %q: %w", expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return "", fmt.Errorf("failed to run expression %q: %w", expression, err)
		}

		if result != nil {
			builder.WriteString(fmt.Sprintf("%v", result))
		}
		lastIndex = fullMatchEnd
	}

	builder.WriteString(s[lastIndex:])

	return builder.String(), nil
}

// evaluateStrings applies evaluateString to every element
func evaluateStrings(ss []string, env any) ([]string, error) {
	out := make([]string, len(ss))
	for i, s := range ss {
		v, err := evaluateString(s, env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// processExpressions recursively walks the parsed TOML data and evaluates expressions in strings
func processExpressions(data any, env any) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			processedVal, err := processExpressions(val, env)
			if err != nil {
				return nil, err
			}
			v[key] = processedVal
		}
		return v, nil
	case []any:
		for i, item := range v {
			processedItem, err := processExpressions(item, env)
			if err != nil {
				return nil, err
			}
			v[i] = processedItem
		}
		return v, nil
	case string:
		return evaluateString(v, env)
	default:
		return data, nil
	}
}

func decodeRaw(rdr io.Reader) (map[string]any, error) {
	var raw map[string]any
	dec := toml.NewDecoder(rdr)
	if err := dec.Decode(&raw); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			return nil, errors.New(derr.String())
		}
		return nil, err
	}
	if raw == nil {
		raw = make(map[string]any)
	}
	return raw, nil
}

func ParseConfig(rdr io.Reader, env ConfigEnv) (*Config, error) {
	rawConfig, err := decodeRaw(rdr)
	if err != nil {
		return nil, err
	}

	processedConfig, err := processExpressions(rawConfig, env)
	if err != nil {
		return nil, fmt.Errorf("error processing expressions in config: %w", err)
	}
	rawConfig = processedConfig.(map[string]any)

	cfg := &Config{Env: make(map[string]*EnvSection)}

	if err := unmarshalSection(rawConfig, "project", &cfg.Project); err != nil {
		return nil, err
	}
	cfg.Project.setDefaults()

	if rawEnvs, ok := rawConfig["env"]; ok {
		envs, ok := rawEnvs.(map[string]any)
		if !ok {
			return nil, errors.New("invalid [env] section format: expected a table")
		}
		for name := range envs {
			sec := new(EnvSection)
			if err := unmarshalConditionalSection(envs, name, sec, env); err != nil {
				return nil, fmt.Errorf("env %q: %w", name, err)
			}
			if err := validate.Struct(sec); err != nil {
				return nil, fmt.Errorf("invalid [env.%s] section: %w", name, err)
			}
			sec.setDefaults()
			cfg.Env[name] = sec
		}
	}

	return cfg, nil
}

// ParseConfigFromFile parses and validates a config file from a filepath
func ParseConfigFromFile(path string, env ConfigEnv) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseConfig(bufio.NewReader(f), env)
}

// ConfigEnv is the expression environment of qembed.toml
type ConfigEnv struct {
	TargetOS   string            `expr:"target_os"`
	TargetArch string            `expr:"target_arch"`
	Environ    map[string]string `expr:"environ"`
}

func NewConfigEnv() ConfigEnv {
	return ConfigEnv{
		TargetOS:   runtime.GOOS,
		TargetArch: runtime.GOARCH,
		Environ:    environMap(),
	}
}

func environMap() map[string]string {
	environ := make(map[string]string)
	for _, e := range os.Environ() {
		if i := strings.Index(e, "="); i >= 0 {
			environ[e[:i]] = e[i+1:]
		}
	}
	return environ
}
