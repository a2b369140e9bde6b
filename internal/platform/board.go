package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Board is a board manifest (boards/<id>.json). Typed fields cover what the
// build needs directly, everything else is reached with dotted paths.
type Board struct {
	ID         string   `json:"-"`
	Name       string   `json:"name" validate:"required"`
	Vendor     string   `json:"vendor"`
	URL        string   `json:"url"`
	Frameworks []string `json:"frameworks"`

	raw map[string]any
}

// LoadBoard loads a board of the platform
func (p *Platform) LoadBoard(id string) (*Board, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: board is not defined", ErrUnknownBoard)
	}
	b, err := LoadBoardFile(filepath.Join(p.Dir, "boards", id+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w %q for platform %q", ErrUnknownBoard, id, p.Name)
	}
	return b, err
}

// LoadBoardFile loads a board manifest, the ID is the file name
func LoadBoardFile(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b := &Board{ID: strings.TrimSuffix(filepath.Base(path), ".json")}
	if err := json.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &b.raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := validate.Struct(b); err != nil {
		return nil, fmt.Errorf("invalid board manifest %s: %w", path, err)
	}
	return b, nil
}

// Boards lists the boards of the platform sorted by ID
func (p *Platform) Boards() ([]*Board, error) {
	paths, err := filepath.Glob(filepath.Join(p.Dir, "boards", "*.json"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	var out []*Board
	for _, path := range paths {
		b, err := LoadBoardFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Raw returns the manifest as a generic map, used as the "board" variable of
// script expressions
func (b *Board) Raw() map[string]any {
	if b.raw == nil {
		b.raw = make(map[string]any)
	}
	return b.raw
}

// Get looks up a dotted path such as "build.mcu"
func (b *Board) Get(path string) (any, bool) {
	var cur any = b.raw
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString returns the value at path formatted as a string, or ""
func (b *Board) GetString(path string) string {
	v, ok := b.Get(path)
	if !ok {
		return ""
	}
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// GetInt returns the numeric value at path, parsing strings, or 0
func (b *Board) GetInt(path string) int64 {
	v, ok := b.Get(path)
	if !ok {
		return 0
	}
	switch v := v.(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	default:
		return 0
	}
}

// Update sets the value at a dotted path, creating intermediate tables
func (b *Board) Update(path string, value any) {
	keys := strings.Split(path, ".")
	cur := b.Raw()
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[key] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value

	switch path {
	case "name":
		b.Name = fmt.Sprint(value)
	case "vendor":
		b.Vendor = fmt.Sprint(value)
	case "url":
		b.URL = fmt.Sprint(value)
	}
}

// DebugTools returns the debug.tools table: tool name -> onboard
func (b *Board) DebugTools() map[string]bool {
	v, ok := b.Get("debug.tools")
	if !ok {
		return nil
	}
	tools, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]bool, len(tools))
	for name, opts := range tools {
		m, _ := opts.(map[string]any)
		onboard, _ := m["onboard"].(bool)
		out[name] = onboard
	}
	return out
}

// DebugToolName resolves the debug tool: the configured one, else the tool
// marked default, else the first on-board tool, else the first tool
func (b *Board) DebugToolName(configured string) string {
	if configured != "" {
		return configured
	}
	tools := b.DebugTools()
	names := slices.Sorted(maps.Keys(tools))
	for _, name := range names {
		if isDefault, _ := b.Get("debug.tools." + name + ".default"); isDefault == true {
			return name
		}
	}
	for _, name := range names {
		if tools[name] {
			return name
		}
	}
	if len(names) > 0 {
		return names[0]
	}
	return ""
}
