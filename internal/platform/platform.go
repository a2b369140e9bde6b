// Package platform loads development platforms from the core directory: the
// platform manifest, its boards and the packages (toolchains, frameworks,
// tools) it depends on.
package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	ManifestFilename        = "platform.json"
	PackageManifestFilename = "package.json"
	CoreDirEnv              = "QEMBED_CORE_DIR"
)

var (
	ErrUnknownPlatform = errors.New("unknown development platform")
	ErrUnknownBoard    = errors.New("unknown board ID")
)

var validate = validator.New()

// Manifest is platform.json
type Manifest struct {
	Name        string                    `json:"name" validate:"required"`
	Title       string                    `json:"title"`
	Version     string                    `json:"version" validate:"required"`
	Description string                    `json:"description"`
	Homepage    string                    `json:"homepage"`
	Frameworks  map[string]FrameworkEntry `json:"frameworks" validate:"dive"`
	Packages    map[string]PackageEntry   `json:"packages" validate:"dive"`
	Toolchain   Toolchain                 `json:"toolchain"`
	Build       BuildFlags                `json:"build"`
}

// FrameworkEntry points to a framework script, resolved relative to the
// platform dir, and to the package holding the framework sources
type FrameworkEntry struct {
	Title   string `json:"title"`
	Script  string `json:"script" validate:"required"`
	Package string `json:"package"`
}

type PackageEntry struct {
	Type     string `json:"type" validate:"omitempty,oneof=toolchain framework uploader debugger tool"`
	Version  string `json:"version"`
	Optional bool   `json:"optional"`
	// Source is where the package is fetched from, see Fetch
	Source string `json:"source"`
}

// Toolchain names the compiler driver programs. Prefix is prepended to every
// name, e.g. "avr-" + "gcc".
type Toolchain struct {
	Prefix string `json:"prefix"`
	CC     string `json:"cc"`
	CXX    string `json:"cxx"`
	AR     string `json:"ar"`
	Size   string `json:"size"`
	GDB    string `json:"gdb"`
	// Includes are extra toolchain include globs relative to the toolchain
	// package dir, reported to IDEs
	Includes []string `json:"includes"`
}

// BuildFlags are the platform base flags, templated with {{ }} expressions
type BuildFlags struct {
	Flags     []string `json:"flags"`
	LinkFlags []string `json:"link_flags"`
	Unflags   []string `json:"unflags"`
}

// Package is an installed package
type Package struct {
	Name    string `json:"name" validate:"required"`
	Version string `json:"version"`
	SrcURL  string `json:"src_url,omitempty"`
	Type    string `json:"-"`
	Dir     string `json:"-"`
}

// Platform is a loaded development platform
type Platform struct {
	Manifest
	Dir     string
	CoreDir string
}

// CoreDir returns the directory holding platforms and packages: the
// environment variable wins over the project setting, then ~/.qembed
func CoreDir(projectSetting string) (string, error) {
	if dir := os.Getenv(CoreDirEnv); dir != "" {
		return dir, nil
	}
	if projectSetting != "" {
		return projectSetting, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".qembed"), nil
}

func PlatformsDir(coreDir string) string { return filepath.Join(coreDir, "platforms") }
func PackagesDir(coreDir string) string  { return filepath.Join(coreDir, "packages") }

// Load loads an installed platform by name
func Load(coreDir, name string) (*Platform, error) {
	dir := filepath.Join(PlatformsDir(coreDir), name)
	p, err := LoadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w %q: not installed in %s", ErrUnknownPlatform, name, PlatformsDir(coreDir))
	}
	if err != nil {
		return nil, err
	}
	p.CoreDir = coreDir
	return p, nil
}

// LoadDir loads the platform rooted at dir
func LoadDir(dir string) (*Platform, error) {
	var m Manifest
	if err := readJSON(filepath.Join(dir, ManifestFilename), &m); err != nil {
		return nil, err
	}
	if err := validate.Struct(m); err != nil {
		return nil, fmt.Errorf("invalid %s in %s: %w", ManifestFilename, dir, err)
	}
	return &Platform{Manifest: m, Dir: dir, CoreDir: filepath.Dir(filepath.Dir(dir))}, nil
}

// List returns every platform installed in the core dir, sorted by name
func List(coreDir string) ([]*Platform, error) {
	entries, err := os.ReadDir(PlatformsDir(coreDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []*Platform
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p, err := Load(coreDir, e.Name())
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Platform) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// DisplayTitle is the title, or the name when the manifest has no title
func (p *Platform) DisplayTitle() string {
	if p.Title != "" {
		return p.Title
	}
	return p.Name
}

// PackageDir returns the directory of an installed package, or "" when the
// package is not installed
func (p *Platform) PackageDir(name string) string {
	dir := filepath.Join(PackagesDir(p.CoreDir), name)
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		return dir
	}
	return ""
}

// InstalledPackages returns the manifest packages present on disk, sorted
func (p *Platform) InstalledPackages() []Package {
	names := make([]string, 0, len(p.Packages))
	for name := range p.Packages {
		names = append(names, name)
	}
	slices.Sort(names)

	var out []Package
	for _, name := range names {
		dir := p.PackageDir(name)
		if dir == "" {
			continue
		}
		pkg := Package{Name: name}
		if err := readJSON(filepath.Join(dir, PackageManifestFilename), &pkg); err != nil {
			pkg.Name = name
		}
		pkg.Type = p.Packages[name].Type
		pkg.Dir = dir
		out = append(out, pkg)
	}
	return out
}

// MissingPackages lists required packages that are not installed
func (p *Platform) MissingPackages() []string {
	var out []string
	for name, entry := range p.Packages {
		if !entry.Optional && p.PackageDir(name) == "" {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// ToolPaths returns the directories of installed toolchain, uploader and
// debugger packages to put in front of PATH (their bin/ when present)
func (p *Platform) ToolPaths() []string {
	var out []string
	for _, pkg := range p.InstalledPackages() {
		switch pkg.Type {
		case "toolchain", "uploader", "debugger":
		default:
			continue
		}
		bin := filepath.Join(pkg.Dir, "bin")
		if st, err := os.Stat(bin); err == nil && st.IsDir() {
			out = append(out, bin)
		} else {
			out = append(out, pkg.Dir)
		}
	}
	return out
}

// ToolchainDir returns the directory of the first installed toolchain
// package, or ""
func (p *Platform) ToolchainDir() string {
	for _, pkg := range p.InstalledPackages() {
		if pkg.Type == "toolchain" {
			return pkg.Dir
		}
	}
	return ""
}

// LDScriptsDir returns the platform ldscripts/ directory if it exists
func (p *Platform) LDScriptsDir() string {
	dir := filepath.Join(p.Dir, "ldscripts")
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		return dir
	}
	return ""
}

// FrameworkScript resolves the script path of a framework
func (p *Platform) FrameworkScript(name string) (string, error) {
	entry, ok := p.Frameworks[name]
	if !ok {
		return "", fmt.Errorf("platform %q has no framework %q", p.Name, name)
	}
	script := entry.Script
	if _, err := os.Stat(script); err != nil || !filepath.IsAbs(script) {
		script = filepath.Join(p.Dir, entry.Script)
	}
	return script, nil
}

// FrameworkDir is the package directory holding the framework sources, or
// the platform directory when the framework ships with the platform
func (p *Platform) FrameworkDir(name string) string {
	entry := p.Frameworks[name]
	if entry.Package != "" {
		if dir := p.PackageDir(entry.Package); dir != "" {
			return dir
		}
	}
	return p.Dir
}

// OriginalVersion decodes versions of repackaged upstream tools where the
// minor part encodes the upstream version: 1.70300.191015 -> 7.3.0
func OriginalVersion(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return ""
	}
	raw := parts[1]
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 99 {
		return ""
	}
	two := func(s string) int { v, _ := strconv.Atoi(s); return v }
	if n <= 9999 {
		return fmt.Sprintf("%s.%d", raw[:len(raw)-2], two(raw[len(raw)-2:]))
	}
	return fmt.Sprintf("%s.%d.%d", raw[:len(raw)-4], two(raw[len(raw)-4:len(raw)-2]), two(raw[len(raw)-2:]))
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
