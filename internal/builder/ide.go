package builder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/qobs-build/qembed/internal/flags"
)

// IDEData is what editors need to index a project environment
type IDEData struct {
	EnvName          string       `json:"env_name"`
	LibSourceDirs    []string     `json:"libsource_dirs"`
	Defines          []string     `json:"defines"`
	Includes         []string     `json:"includes"`
	CCFlags          string       `json:"cc_flags"`
	CXXFlags         string       `json:"cxx_flags"`
	CCPath           string       `json:"cc_path"`
	CXXPath          string       `json:"cxx_path"`
	GDBPath          string       `json:"gdb_path"`
	ProgPath         string       `json:"prog_path"`
	FlashExtraImages []FlashImage `json:"flash_extra_images"`
	SVDPath          string       `json:"svd_path"`
	CompilerType     string       `json:"compiler_type"`
	CompilerMacros   []string     `json:"compiler_macros,omitempty"`
}

// FlashImage is an extra image flashed along with the program
type FlashImage struct {
	Offset string `json:"offset"`
	Path   string `json:"path"`
}

// DumpIDEData collects the IDE data of a configured environment. The
// compiler is queried for its built-in macros when withMacros is set.
func (cfg *BuildConfig) DumpIDEData(withMacros bool) *IDEData {
	data := &IDEData{
		EnvName:          cfg.EnvName,
		LibSourceDirs:    []string{},
		Defines:          cfg.ideDefines(),
		Includes:         cfg.ideIncludes(),
		CCFlags:          lintString(cfg.Flags.Args(flags.CFlags, flags.CCFlags, flags.CPPFlags)),
		CXXFlags:         lintString(cfg.Flags.Args(flags.CXXFlags, flags.CCFlags, flags.CPPFlags)),
		CCPath:           cfg.Toolchain.LookPath(cfg.Toolchain.CC),
		CXXPath:          cfg.Toolchain.LookPath(cfg.Toolchain.CXX),
		GDBPath:          cfg.Toolchain.LookPath(cfg.Toolchain.GDB),
		ProgPath:         cfg.ProgramPath(),
		FlashExtraImages: cfg.flashExtraImages(),
		SVDPath:          cfg.svdPath(),
		CompilerType:     cfg.CompilerType,
	}
	for _, g := range cfg.Groups {
		if g.Library {
			data.LibSourceDirs = appendUnique(data.LibSourceDirs, g.SrcDir)
		}
	}
	if withMacros {
		data.CompilerMacros = cfg.Toolchain.CompilerMacros()
	}
	return data
}

func (cfg *BuildConfig) ideDefines() []string {
	defines := make([]string, 0, len(cfg.Flags.Batch[flags.Defines])+1)
	for _, d := range cfg.Flags.Batch[flags.Defines] {
		if slices.Contains(cfg.Flags.Undefines, d.Key) {
			continue
		}
		defines = append(defines, strings.ReplaceAll(d.DefineString(), `\`, ""))
	}
	if cfg.Platform != nil && cfg.Platform.Name == "atmelavr" && cfg.Board != nil {
		if mcu := cfg.Board.GetString("build.mcu"); mcu != "" {
			mcu = strings.ToUpper(mcu)
			mcu = strings.Replace(mcu, "ATMEGA", "ATmega", 1)
			mcu = strings.Replace(mcu, "ATTINY", "ATtiny", 1)
			defines = append(defines, "__AVR_"+mcu+"__")
		}
	}
	return defines
}

func (cfg *BuildConfig) ideIncludes() []string {
	var includes []string
	for _, g := range cfg.Groups {
		if g.Project {
			set := cfg.GroupFlags(g)
			for _, inc := range set.Batch[flags.IncludePaths] {
				includes = append(includes, inc.Key)
			}
		}
	}
	for _, inc := range cfg.Flags.Batch[flags.IncludePaths] {
		includes = append(includes, inc.Key)
	}
	for _, g := range cfg.Groups {
		if g.Library {
			includes = append(includes, g.SrcDir)
		}
	}

	if cfg.Platform != nil {
		if dir := cfg.Platform.ToolchainDir(); dir != "" {
			globs := []string{
				filepath.Join(dir, "*", "include*"),
				filepath.Join(dir, "*", "include", "c++", "*"),
				filepath.Join(dir, "*", "include", "c++", "*", "*-*-*"),
				filepath.Join(dir, "lib", "gcc", "*", "*", "include*"),
			}
			for _, extra := range cfg.Platform.Toolchain.Includes {
				globs = append(globs, filepath.Join(dir, extra))
			}
			for _, g := range globs {
				matches, _ := filepath.Glob(g)
				includes = append(includes, matches...)
			}
		}
	}

	includes = append(includes, cfg.IncludeDir, cfg.SrcDir)

	var result []string
	for _, inc := range includes {
		if abs, err := filepath.Abs(inc); err == nil {
			inc = abs
		}
		result = appendUnique(result, inc)
	}
	return result
}

func (cfg *BuildConfig) flashExtraImages() []FlashImage {
	images := []FlashImage{}
	if cfg.Board == nil {
		return images
	}
	v, ok := cfg.Board.Get("upload.extra_images")
	if !ok {
		return images
	}
	items, _ := v.([]any)
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		offset, _ := m["offset"].(string)
		path, _ := m["path"].(string)
		if path != "" && !filepath.IsAbs(path) && cfg.Platform != nil {
			path = filepath.Join(cfg.Platform.Dir, path)
		}
		images = append(images, FlashImage{Offset: offset, Path: path})
	}
	return images
}

// svdPath resolves the board's SVD file: as given, else from the platform
// misc/svd directory
func (cfg *BuildConfig) svdPath() string {
	if cfg.Board == nil {
		return ""
	}
	svd := cfg.Board.GetString("debug.svd_path")
	if svd == "" {
		return ""
	}
	if fileExists(svd) {
		abs, _ := filepath.Abs(svd)
		return abs
	}
	if cfg.Platform != nil {
		if p := filepath.Join(cfg.Platform.Dir, "misc", "svd", svd); fileExists(p) {
			return p
		}
	}
	return ""
}

// lintString joins arguments for IDE consumption: quotes are unescaped and
// spaces inside an argument are escaped
func lintString(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		a = strings.ReplaceAll(a, `\"`, `"`)
		out[i] = strings.ReplaceAll(a, " ", `\ `)
	}
	return strings.Join(out, " ")
}

func appendUnique(list []string, item string) []string {
	if slices.Contains(list, item) {
		return list
	}
	return append(list, item)
}

// CompileCommand is an entry of compile_commands.json
type CompileCommand struct {
	Directory string   `json:"directory"`
	Arguments []string `json:"arguments"`
	File      string   `json:"file"`
	Output    string   `json:"output,omitempty"`
}

// CompileCommands lists the compiler invocation of every collected source.
// File is the original source so that editors map it back to the project.
func (cfg *BuildConfig) CompileCommands() []CompileCommand {
	out := []CompileCommand{}
	for _, g := range cfg.Groups {
		set := cfg.GroupFlags(g)
		for _, f := range g.Files {
			compiler, _ := cfg.compilerFor(f.Path)
			if p := cfg.Toolchain.LookPath(compiler); p != "" {
				compiler = p
			}
			obj := f.Path + ".o"
			args := append([]string{compiler}, CompileArgs(&set, f.Path)...)
			args = append(args, "-c", f.Source, "-o", obj)
			out = append(out, CompileCommand{
				Directory: cfg.ProjectDir,
				Arguments: args,
				File:      f.Source,
				Output:    obj,
			})
		}
	}
	return out
}

// WriteCompileDB writes compile_commands.json into the project directory
func (cfg *BuildConfig) WriteCompileDB() (string, error) {
	data, err := json.MarshalIndent(cfg.CompileCommands(), "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(cfg.ProjectDir, "compile_commands.json")
	return path, os.WriteFile(path, data, 0o644)
}
