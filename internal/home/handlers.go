package home

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/qobs-build/qembed/internal/builder"
	"github.com/qobs-build/qembed/internal/device"
	"github.com/qobs-build/qembed/internal/version"
)

// DirEntry is an os.listDir item
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

func (s *Server) registerHandlers() {
	s.rpc.Register("core", map[string]HandlerFunc{
		"version": func(context.Context, Params) (any, error) {
			return version.Version, nil
		},
		"instance": func(context.Context, Params) (any, error) {
			return s.instanceID, nil
		},
	})

	s.rpc.Register("device", map[string]HandlerFunc{
		"list": func(context.Context, Params) (any, error) {
			ports, err := s.listPorts()
			if err != nil {
				return nil, err
			}
			if ports == nil {
				ports = []device.SerialPort{}
			}
			return ports, nil
		},
	})

	s.rpc.Register("project", map[string]HandlerFunc{
		"config":  projectConfig,
		"ideData": projectIDEData,
	})

	s.rpc.Register("os", map[string]HandlerFunc{
		"listDir": listDir,
		"isFile": func(_ context.Context, p Params) (any, error) {
			path, err := pathParam(p)
			if err != nil {
				return nil, err
			}
			st, err := os.Stat(path)
			return err == nil && st.Mode().IsRegular(), nil
		},
		"isDir": func(_ context.Context, p Params) (any, error) {
			path, err := pathParam(p)
			if err != nil {
				return nil, err
			}
			st, err := os.Stat(path)
			return err == nil && st.IsDir(), nil
		},
		"fetchContent": func(ctx context.Context, p Params) (any, error) {
			url, err := urlParam(p)
			if err != nil {
				return nil, err
			}
			return s.fetch(ctx, url)
		},
	})

	s.rpc.Register("misc", map[string]HandlerFunc{
		"loadContent": func(ctx context.Context, p Params) (any, error) {
			url, err := urlParam(p)
			if err != nil {
				return nil, err
			}
			return s.cache.Load(ctx, url)
		},
	})
}

func stringParam(p Params, name string) (string, error) {
	var v string
	if err := p.Bind(&v); err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidParams, name)
	}
	return v, nil
}

func pathParam(p Params) (string, error) {
	path, err := stringParam(p, "path")
	if err != nil {
		return "", err
	}
	return expandUser(path), nil
}

func urlParam(p Params) (string, error) {
	url, err := stringParam(p, "url")
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("%w: unsupported url %q", ErrInvalidParams, url)
	}
	return url, nil
}

func expandUser(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func listDir(_ context.Context, p Params) (any, error) {
	path, err := pathParam(p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		item := DirEntry{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			item.Size = info.Size()
		}
		out = append(out, item)
	}
	slices.SortFunc(out, func(a, b DirEntry) int {
		if a.IsDir != b.IsDir {
			if a.IsDir {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func openProject(p Params) (*builder.Builder, string, error) {
	var dir, env string
	if err := p.Bind(&dir, &env); err != nil {
		return nil, "", err
	}
	if dir == "" {
		return nil, "", fmt.Errorf("%w: dir is required", ErrInvalidParams)
	}
	b, err := builder.NewBuilderInDirectory(expandUser(dir))
	if err != nil {
		return nil, "", err
	}
	b.Out = io.Discard
	return b, env, nil
}

// projectConfig returns the parsed qembed.toml of a project
func projectConfig(_ context.Context, p Params) (any, error) {
	b, _, err := openProject(p)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"dir":     b.Dir(),
		"project": b.Config().Project,
		"envs":    b.Config().EnvList(),
		"env":     b.Config().Env,
	}, nil
}

// projectIDEData configures an environment, the first default one when env
// is omitted, and returns its IDE data
func projectIDEData(_ context.Context, p Params) (any, error) {
	b, env, err := openProject(p)
	if err != nil {
		return nil, err
	}
	if env == "" {
		envs, err := b.Config().EnvNames(nil)
		if err != nil {
			return nil, err
		}
		env = envs[0]
	}
	return b.IDEData(env, true)
}
