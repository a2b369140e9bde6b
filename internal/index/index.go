package index

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/qobs-build/qembed/internal/msg"
)

const (
	IndexFilename = "qembed_index.json"
	indexRepoURL  = "https://github.com/qobs-build/qembed-index.git"
	indexBranch   = "main"
)

var errNotInIndex = errors.New("platform not found in index")

// Index maps platform names to package sources (see platform.Fetch). A
// source may also be a directory inside the index repository itself.
type Index struct {
	// on windows: %LocalAppData%/qembed/index
	// on linux: ~/.cache/qembed/index
	basePath string
	// platform name -> source
	Platforms map[string]string
}

func ParseIndex(rdr io.Reader, basePath string) (*Index, error) {
	var platforms map[string]string
	if err := json.NewDecoder(bufio.NewReader(rdr)).Decode(&platforms); err != nil {
		return nil, err
	}
	return &Index{Platforms: platforms, basePath: basePath}, nil
}

func (index Index) Save(basePath string) error {
	path := filepath.Join(basePath, IndexFilename)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bufw := bufio.NewWriter(f)
	defer bufw.Flush()

	enc := json.NewEncoder(bufw)
	enc.SetIndent("", "  ")
	return enc.Encode(index.Platforms)
}

func FetchIndex(basePath string) (*Index, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(basePath, ".git")); os.IsNotExist(err) {
		fmt.Printf("  %s platform index\n", color.HiGreenString("Fetching"))
		_, err := git.PlainClone(basePath, &git.CloneOptions{
			URL:           indexRepoURL,
			ReferenceName: plumbing.NewBranchReferenceName(indexBranch),
			SingleBranch:  true,
			Depth:         1,
			Progress:      &msg.IndentWriter{Indent: "    ", W: os.Stdout},
		})
		if err != nil {
			return nil, err
		}
	} else {
		repo, err := git.PlainOpen(basePath)
		if err != nil {
			return nil, err
		}
		w, err := repo.Worktree()
		if err != nil {
			return nil, err
		}
		err = w.Pull(&git.PullOptions{
			RemoteName:    "origin",
			ReferenceName: plumbing.NewBranchReferenceName(indexBranch),
			SingleBranch:  true,
			Depth:         1,
			Progress:      &msg.IndentWriter{Indent: "    ", W: os.Stdout},
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil, err
		}
	}

	return ParseIndexInPath(basePath)
}

func ParseIndexInPath(basePath string) (*Index, error) {
	path := filepath.Join(basePath, IndexFilename)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseIndex(bufio.NewReader(f), basePath)
}

func LoadOrFetchIndex(basePath string) (*Index, error) {
	path := filepath.Join(basePath, IndexFilename)

	if _, err := os.Stat(path); err == nil {
		return ParseIndexInPath(basePath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return FetchIndex(basePath)
}

var globalIndex *Index

func cachePath() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "qembed", "index"), nil
}

func GetIndexAnyhow() (*Index, error) {
	if globalIndex != nil {
		return globalIndex, nil
	}
	path, err := cachePath()
	if err != nil {
		return nil, err
	}
	index, err := LoadOrFetchIndex(path)
	if err != nil {
		return nil, err
	}
	globalIndex = index
	return index, err
}

// Resolve turns a platform name into a source for platform.Fetch. Entries
// that are not git shortcuts or URLs are paths inside the index repository.
func (index Index) Resolve(name string) (string, error) {
	src, ok := index.Platforms[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", errNotInIndex, name)
	}
	if strings.Contains(src, ":") || filepath.IsAbs(src) {
		return src, nil
	}
	return filepath.Join(index.basePath, src), nil
}

// Search returns the names whose name or source contains term, sorted
func (index Index) Search(term string) []string {
	term = strings.ToLower(term)
	var out []string
	for name, src := range index.Platforms {
		if strings.Contains(strings.ToLower(name), term) || strings.Contains(strings.ToLower(src), term) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

func (idx *Index) SetPlatform(name, source string) {
	if idx.Platforms == nil {
		idx.Platforms = make(map[string]string)
	}
	idx.Platforms[name] = source
}

func (idx *Index) HasPlatform(name string) bool {
	_, exists := idx.Platforms[name]
	return exists
}

func (idx *Index) RemovePlatform(name string) bool {
	if idx.Platforms == nil {
		return false
	}
	if _, ok := idx.Platforms[name]; ok {
		delete(idx.Platforms, name)
		return true
	}
	return false
}

func UpdateGlobalIndex() (*Index, error) {
	path, err := cachePath()
	if err != nil {
		return nil, err
	}
	index, err := FetchIndex(path)
	if err == nil {
		globalIndex = index
	}
	return index, err
}
