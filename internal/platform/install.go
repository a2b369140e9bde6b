package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
)

var errNotGit = errors.New("not installed from a git source")

// Install fetches a platform from source into the core dir, then its
// required packages. The directory name comes from the manifest.
func Install(coreDir, source string) (*Platform, error) {
	platformsDir := PlatformsDir(coreDir)
	if err := os.MkdirAll(platformsDir, 0o755); err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp(platformsDir, ".install-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	fmt.Printf("  %s %s\n", color.HiGreenString("Fetching"), source)
	if err := Fetch(source, tmp); err != nil {
		return nil, fmt.Errorf("failed to fetch platform %q: %w", source, err)
	}

	p, err := LoadDir(tmp)
	if err != nil {
		return nil, err
	}

	dest := filepath.Join(platformsDir, p.Name)
	if _, err := os.Stat(dest); err == nil {
		return nil, fmt.Errorf("platform %q is already installed in %s", p.Name, dest)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return nil, err
	}

	p, err = Load(coreDir, p.Name)
	if err != nil {
		return nil, err
	}
	if err := p.InstallPackages(false); err != nil {
		return p, err
	}
	return p, nil
}

// InstallPackages fetches every missing package that has a source.
// Optional packages are skipped unless withOptional is set.
func (p *Platform) InstallPackages(withOptional bool) error {
	if err := os.MkdirAll(PackagesDir(p.CoreDir), 0o755); err != nil {
		return err
	}
	for name, entry := range p.Packages {
		if p.PackageDir(name) != "" || (entry.Optional && !withOptional) {
			continue
		}
		if entry.Source == "" {
			return fmt.Errorf("package %q of platform %q is not installed and has no source", name, p.Name)
		}
		fmt.Printf("  %s %s %s\n", color.HiGreenString("Installing"), name, entry.Version)
		dest := filepath.Join(PackagesDir(p.CoreDir), name)
		if err := Fetch(entry.Source, dest); err != nil {
			os.RemoveAll(dest)
			return fmt.Errorf("failed to install package %q: %w", name, err)
		}
	}
	return nil
}

// Uninstall removes an installed platform, packages are kept since other
// platforms may share them
func Uninstall(coreDir, name string) error {
	p, err := Load(coreDir, name)
	if err != nil {
		return err
	}
	return os.RemoveAll(p.Dir)
}

// Update pulls a platform installed from git and installs packages that
// became required
func Update(coreDir, name string) (*Platform, error) {
	p, err := Load(coreDir, name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(p.Dir, ".git")); err != nil {
		return nil, fmt.Errorf("platform %q: %w", name, errNotGit)
	}
	if err := pullGitRepo(p.Dir); err != nil {
		return nil, fmt.Errorf("failed to update platform %q: %w", name, err)
	}
	if p, err = Load(coreDir, name); err != nil {
		return nil, err
	}
	return p, p.InstallPackages(false)
}
