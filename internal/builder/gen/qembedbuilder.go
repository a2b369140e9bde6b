package gen

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/qobs-build/qembed/internal/msg"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/blake3"
)

const StateFilename = "qembed_build_state.json"

// ObjectState is what an object was last built from
type ObjectState struct {
	// Hash covers the compiler, its arguments and the source contents
	Hash    string            `json:"hash"`
	Headers map[string]string `json:"headers,omitempty"` // header -> hash
}

// BuildState represents the state of a build target for incremental builds
type BuildState struct {
	Objects      map[string]ObjectState `json:"objects,omitempty"`      // object path -> state
	Dependencies map[string]string      `json:"dependencies,omitempty"` // library -> hash
	Link         string                 `json:"link,omitempty"`         // hash of the link command
}

// compileJob represents a single compilation job
type compileJob struct {
	target string
	object Object
	hash   string
}

// linkJob represents an archive or link job
type linkJob struct {
	name  string
	args  []string
	tool  string
	out   string
	isLib bool
}

// QembedBuilder builds targets itself, without a build file
type QembedBuilder struct {
	tc         Toolchain
	order      []string
	targets    map[string]Target
	buildDir   string
	stateFile  string
	buildState map[string]*BuildState
	jobs       int
	verbose    bool
	out        io.Writer

	mu        sync.Mutex
	hashCache map[string]string
}

// NewQembedBuilder returns a builder running up to jobs compilations at once,
// jobs <= 0 means one per CPU
func NewQembedBuilder(jobs int, verbose bool) *QembedBuilder {
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	return &QembedBuilder{
		targets:    make(map[string]Target),
		buildState: make(map[string]*BuildState),
		jobs:       jobs,
		verbose:    verbose,
		out:        os.Stdout,
		hashCache:  make(map[string]string),
	}
}

func (g *QembedBuilder) SetToolchain(tc Toolchain) { g.tc = tc }

func (g *QembedBuilder) BuildFile() string { return StateFilename }

func (g *QembedBuilder) AddTarget(t Target) {
	if _, ok := g.targets[t.Name]; !ok {
		g.order = append(g.order, t.Name)
	}
	g.targets[t.Name] = t
}

func (g *QembedBuilder) Generate() string {
	return "" // no build file needed
}

// Invoke performs the actual build
func (g *QembedBuilder) Invoke(ctx context.Context, buildDir string) error {
	g.buildDir = buildDir
	g.stateFile = filepath.Join(buildDir, g.BuildFile())

	if err := g.loadBuildState(); err != nil {
		msg.Warn("failed to load build state: %v", err)
	}

	sorted, err := topologicalSort(g.order, g.targets)
	if err != nil {
		return err
	}

	compileJobs, linkJobs, err := g.planBuild(sorted)
	if err != nil {
		return fmt.Errorf("build planning failed: %w", err)
	}

	if len(compileJobs) == 0 && len(linkJobs) == 0 {
		fmt.Fprintln(g.out, "qembed: no work to do.")
		return nil
	}

	buildErr := g.executeBuild(ctx, compileJobs, linkJobs)

	// objects that did compile are kept even when others failed
	if err := g.saveBuildState(); err != nil {
		msg.Warn("failed to save build state: %v", err)
	}

	return buildErr
}

// planBuild determines which compile and link jobs are necessary
func (g *QembedBuilder) planBuild(sorted []string) (allCompileJobs []compileJob, allLinkJobs []linkJob, err error) {
	rebuilt := make(map[string]bool)

	for _, name := range sorted {
		target := g.targets[name]
		oldState := g.buildState[name]
		needsRelink := false

		// reason 1 for relink: output file is missing
		if _, err := os.Stat(g.output(name)); os.IsNotExist(err) {
			needsRelink = true
		}

		job, err := g.createLinkJob(target)
		if err != nil {
			return nil, nil, err
		}

		// reason 2 for relink: the command changed
		if oldState == nil || oldState.Link != hashStrings(job.tool, job.args) {
			needsRelink = true
		}

		// reason 3 for relink: a dependency was rebuilt
		for _, dep := range target.Deps {
			if rebuilt[dep] {
				needsRelink = true
				break
			}
			hash, err := g.fileHash(g.output(dep))
			if err != nil {
				needsRelink = true
				break
			}
			if oldState == nil || oldState.Dependencies[dep] != hash {
				needsRelink = true
				break
			}
		}

		var targetJobs []compileJob
		for _, obj := range target.Objects {
			hash, err := g.objectHash(obj)
			if err != nil {
				return nil, nil, fmt.Errorf("could not check status of %s: %w", obj.Src, err)
			}
			if g.isObjectDirty(obj, hash, oldState) {
				targetJobs = append(targetJobs, compileJob{target: name, object: obj, hash: hash})
			}
		}

		// reason 4 for relink: one or more of its source files were recompiled
		if len(targetJobs) > 0 {
			allCompileJobs = append(allCompileJobs, targetJobs...)
			needsRelink = true
		}

		if needsRelink {
			rebuilt[name] = true
			allLinkJobs = append(allLinkJobs, job)
		}
	}

	return allCompileJobs, allLinkJobs, nil
}

// executeBuild runs compile jobs in parallel, then archives, then programs
func (g *QembedBuilder) executeBuild(ctx context.Context, compileJobs []compileJob, linkJobs []linkJob) error {
	err := runJobs(ctx, compileJobs, g.jobs, func(ctx context.Context, job compileJob) error {
		if err := g.runCompileJob(ctx, job); err != nil {
			return err
		}
		g.recordObject(job)
		return nil
	})
	if err != nil {
		return fmt.Errorf("compilation failed: %w", err)
	}

	var libs, progs []linkJob
	for _, job := range linkJobs {
		if job.isLib {
			libs = append(libs, job)
		} else {
			progs = append(progs, job)
		}
	}
	for _, batch := range [][]linkJob{libs, progs} {
		if err := runJobs(ctx, batch, g.jobs, g.runLinkJob); err != nil {
			return fmt.Errorf("linking failed: %w", err)
		}
		for _, job := range batch {
			g.recordLink(job)
		}
	}

	return nil
}

// isObjectDirty checks if a single object needs to be recompiled
func (g *QembedBuilder) isObjectDirty(obj Object, hash string, state *BuildState) bool {
	if _, err := os.Stat(obj.Obj); err != nil {
		return true
	}
	if state == nil {
		return true
	}
	prev, ok := state.Objects[obj.Obj]
	if !ok || prev.Hash != hash {
		return true
	}
	for header, headerHash := range prev.Headers {
		if h, err := g.fileHash(header); err != nil || h != headerHash {
			return true
		}
	}
	return false
}

func (g *QembedBuilder) objectHash(obj Object) (string, error) {
	src, err := g.fileHash(obj.Src)
	if err != nil {
		return "", err
	}
	return hashStrings(obj.Compiler, append(slices.Clone(obj.Args), src)), nil
}

// createLinkJob constructs the archive or link command of a target
func (g *QembedBuilder) createLinkJob(target Target) (linkJob, error) {
	objects := make([]string, len(target.Objects))
	for i, o := range target.Objects {
		objects[i] = o.Obj
	}
	out := g.output(target.Name)

	if target.IsLib {
		objects, err := responseFileArgs(g.buildDir, objects)
		if err != nil {
			return linkJob{}, err
		}
		args := append([]string{"rcs", out}, objects...)
		return linkJob{name: target.Name, args: args, tool: g.tc.AR, out: out, isLib: true}, nil
	}

	var args []string
	args = append(args, "-o", out)
	args = append(args, target.LinkArgs...)
	args = append(args, objects...)
	for _, dep := range target.Deps {
		args = append(args, g.output(dep))
	}
	args = append(args, target.LibArgs...)

	args, err := responseFileArgs(g.buildDir, args)
	if err != nil {
		return linkJob{}, err
	}
	return linkJob{name: target.Name, args: args, tool: linker(g.tc, target, g.targets), out: out}, nil
}

func (g *QembedBuilder) output(name string) string {
	return filepath.Join(g.buildDir, name)
}

func topologicalSort(order []string, targets map[string]Target) ([]string, error) {
	graph := make(map[string][]string) // target -> targets that depend on it
	inDegree := make(map[string]int)   // target -> dependency count

	for _, name := range order {
		graph[name] = []string{}
		inDegree[name] = 0
	}

	for _, name := range order {
		for _, dep := range targets[name].Deps {
			if _, ok := targets[dep]; !ok {
				return nil, fmt.Errorf("target `%s` lists a non-existent dependency: `%s`", name, dep)
			}
			graph[dep] = append(graph[dep], name)
			inDegree[name]++
		}
	}

	// queue of targets with indegree of 0, in insertion order
	var queue []string
	for _, name := range order {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	var sorted []string
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		sorted = append(sorted, u)

		for _, v := range graph[u] {
			inDegree[v]--
			if inDegree[v] == 0 {
				queue = append(queue, v)
			}
		}
	}

	if len(sorted) != len(order) {
		var cycle []string
		for _, name := range order {
			if inDegree[name] > 0 {
				cycle = append(cycle, name)
			}
		}
		return nil, fmt.Errorf("dependency cycle detected involving targets: %v", cycle)
	}

	return sorted, nil
}

// loadBuildState loads the previous build state from disk
func (g *QembedBuilder) loadBuildState() error {
	f, err := os.Open(g.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no previous state, that's fine
		}
		return err
	}
	defer f.Close()
	return json.NewDecoder(bufio.NewReader(f)).Decode(&g.buildState)
}

// saveBuildState saves the current build state to disk
func (g *QembedBuilder) saveBuildState() error {
	data, err := json.MarshalIndent(g.buildState, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(g.stateFile, data, 0o644)
}

// fileHash computes the blake3 hash of a file with an in-memory cache
func (g *QembedBuilder) fileHash(path string) (string, error) {
	g.mu.Lock()
	hash, ok := g.hashCache[path]
	g.mu.Unlock()
	if ok {
		return hash, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}

	hash = hex.EncodeToString(h.Sum(nil))
	g.mu.Lock()
	g.hashCache[path] = hash
	g.mu.Unlock()
	return hash, nil
}

func (g *QembedBuilder) forget(path string) {
	g.mu.Lock()
	delete(g.hashCache, path)
	g.mu.Unlock()
}

func hashStrings(first string, rest []string) string {
	h := blake3.New(32, nil)
	io.WriteString(h, first)
	for _, s := range rest {
		h.Write([]byte{0})
		io.WriteString(h, s)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// recordObject stores the state of a freshly compiled object along with the
// headers its dependency file lists
func (g *QembedBuilder) recordObject(job compileJob) {
	st := ObjectState{Hash: job.hash}
	if g.tc.DepFiles {
		deps, err := parseDepFile(job.object.Obj + ".d")
		if err == nil && len(deps) > 1 {
			st.Headers = make(map[string]string, len(deps)-1)
			for _, dep := range deps[1:] {
				if h, err := g.fileHash(dep); err == nil {
					st.Headers[dep] = h
				}
			}
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.stateFor(job.target)
	if state.Objects == nil {
		state.Objects = make(map[string]ObjectState)
	}
	state.Objects[job.object.Obj] = st
}

// recordLink stores the command and dependency hashes of a linked target
func (g *QembedBuilder) recordLink(job linkJob) {
	g.forget(job.out)
	target := g.targets[job.name]
	deps := make(map[string]string, len(target.Deps))
	for _, dep := range target.Deps {
		if h, err := g.fileHash(g.output(dep)); err == nil {
			deps[dep] = h
		} else {
			msg.Warn("could not hash dependency %s for state update: %v", dep, err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.stateFor(job.name)
	state.Dependencies = deps
	state.Link = hashStrings(job.tool, job.args)
}

// stateFor must be called with mu held
func (g *QembedBuilder) stateFor(name string) *BuildState {
	state, ok := g.buildState[name]
	if !ok {
		state = &BuildState{}
		g.buildState[name] = state
	}
	return state
}

// runJobs runs jobs in parallel, stopping at the first failure
func runJobs[T any](ctx context.Context, jobs []T, limit int, jobfunc func(context.Context, T) error) error {
	if len(jobs) == 0 {
		return nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)

	for _, job := range jobs {
		eg.Go(func() error {
			return jobfunc(ctx, job)
		})
	}

	return eg.Wait()
}

func (g *QembedBuilder) display(path string) string {
	if rel, err := filepath.Rel(g.buildDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}

func (g *QembedBuilder) command(ctx context.Context, tool string, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Env = g.tc.Env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if g.verbose {
		fmt.Fprintln(g.out, tool, strings.Join(args, " "))
	}
	return cmd
}

// runCompileJob runs a single compilation job
func (g *QembedBuilder) runCompileJob(ctx context.Context, job compileJob) error {
	o := job.object
	if err := os.MkdirAll(filepath.Dir(o.Obj), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	args, err := responseFileArgs(g.buildDir, compileArgs(o, g.tc.DepFiles))
	if err != nil {
		return err
	}

	msg.Step("Compiling", "%s", g.display(o.Src))
	if err := g.command(ctx, o.Compiler, args).Run(); err != nil {
		return fmt.Errorf("%s: %w", g.display(o.Src), err)
	}
	return nil
}

// runLinkJob runs a single archive or link job
func (g *QembedBuilder) runLinkJob(ctx context.Context, job linkJob) error {
	if job.isLib {
		// ar only adds members, stale ones from removed sources would stay
		os.Remove(job.out)
		msg.Step("Archiving", "%s", g.display(job.out))
	} else {
		msg.Step("Linking", "%s", g.display(job.out))
	}
	if err := g.command(ctx, job.tool, job.args).Run(); err != nil {
		return fmt.Errorf("%s: %w", job.name, err)
	}
	return nil
}
