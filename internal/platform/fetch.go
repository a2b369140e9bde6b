package platform

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/qobs-build/qembed/internal/msg"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
)

var sourceShortcuts = map[string]string{
	"gh:": "https://github.com/",
	"gl:": "https://gitlab.com/",
	"bb:": "https://bitbucket.org/",
	"sr:": "https://sr.ht/",
	"cb:": "https://codeberg.org/",
}

const gitPrefix = "git:"

var (
	errIllegalSource      = errors.New("empty or illegal package source")
	errUnsupportedArchive = errors.New("unsupported archive format")
)

// Fetch places the package described by source into dest. A source is one of
//
//	git:https://host/owner/repo.git[@branch][#revision]
//	gh:owner/repo[@branch][#revision] (also gl:, bb:, sr:, cb:)
//	https://host/file.tar.gz (.tgz, .tar.xz, .tar.zst, .zip)
//	a local directory
func Fetch(source, dest string) error {
	if source == "" {
		return errIllegalSource
	}

	if strings.HasPrefix(source, gitPrefix) {
		return cloneGitRepo(source[len(gitPrefix):], dest)
	}

	for shortcut, base := range sourceShortcuts {
		if strings.HasPrefix(source, shortcut) {
			return cloneGitRepo(base+source[len(shortcut):], dest)
		}
	}

	if isURL(source) {
		return downloadAndExtractArchive(source, dest)
	}

	st, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("package source %q: %w", source, err)
	}
	if !st.IsDir() {
		f, err := os.Open(source)
		if err != nil {
			return err
		}
		defer f.Close()
		return extractArchive(f, source, dest)
	}
	return os.CopyFS(dest, os.DirFS(source))
}

func isURL(maybeURL string) bool {
	u, err := url.Parse(maybeURL)
	return err == nil && u.Scheme != "" && u.Host != ""
}

type gitURL struct {
	cleanURL    string
	branch      string
	commitOrTag string
}

// someone/something@master#0.1.0
// someone/something@feature-branch#12345abc
// someone/something#12345abc
func parseGitURL(rawURL string) (res gitURL) {
	parts := strings.SplitN(rawURL, "#", 2)
	baseURL := parts[0]
	if len(parts) == 2 {
		res.commitOrTag = parts[1]
	}

	// the userinfo part of ssh urls (git@host:repo) is not a branch
	at := strings.LastIndex(baseURL, "@")
	if at > strings.LastIndex(baseURL, "/") {
		res.cleanURL = baseURL[:at]
		res.branch = baseURL[at+1:]
	} else {
		res.cleanURL = baseURL
	}

	if !strings.HasSuffix(res.cleanURL, ".git") {
		res.cleanURL += ".git"
	}

	return
}

// cloneGitRepo clones a Git remote into the specified directory
func cloneGitRepo(url, toWhere string) error {
	parsedURL := parseGitURL(url)

	cloneOptions := &git.CloneOptions{
		URL:               parsedURL.cleanURL,
		Progress:          &msg.IndentWriter{Indent: "    ", W: os.Stdout},
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	}

	if parsedURL.commitOrTag == "" {
		cloneOptions.Depth = 1 // we can do a shallow clone of the latest commit
	}

	if parsedURL.branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(parsedURL.branch)
		cloneOptions.SingleBranch = true
	}

	repo, err := git.PlainClone(toWhere, cloneOptions)
	if err != nil {
		return err
	}

	if parsedURL.commitOrTag != "" {
		w, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("could not get worktree: %w", err)
		}

		revision := parsedURL.commitOrTag
		hash, err := repo.ResolveRevision(plumbing.Revision(revision))
		if err != nil {
			return fmt.Errorf("could not resolve revision `%s`: %w", revision, err)
		}

		err = w.Checkout(&git.CheckoutOptions{
			Hash:  *hash,
			Force: true,
		})
		if err != nil {
			return fmt.Errorf("failed to checkout `%s`: %w", revision, err)
		}
	}

	return nil
}

// pullGitRepo fast-forwards a package installed from git
func pullGitRepo(dir string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return err
	}
	w, err := repo.Worktree()
	if err != nil {
		return err
	}
	err = w.Pull(&git.PullOptions{
		RemoteName: "origin",
		Progress:   &msg.IndentWriter{Indent: "    ", W: os.Stdout},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}

func downloadAndExtractArchive(url, toWhere string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp("", "qembed-download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	bar := progressbar.DefaultBytes(resp.ContentLength, "    downloading")
	if _, err := io.Copy(io.MultiWriter(tmp, bar), resp.Body); err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	return extractArchive(tmp, url, toWhere)
}

// extractArchive unpacks an archive by the suffix of name. A single top
// level directory, as produced by most release tarballs, is stripped.
func extractArchive(f *os.File, name, dest string) error {
	name = strings.ToLower(name)
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}

	var err error
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		var zr *pgzip.Reader
		if zr, err = pgzip.NewReader(f); err == nil {
			err = extractTar(zr, dest)
			zr.Close()
		}
	case strings.HasSuffix(name, ".tar.xz"):
		var xr *xz.Reader
		if xr, err = xz.NewReader(f); err == nil {
			err = extractTar(xr, dest)
		}
	case strings.HasSuffix(name, ".tar.zst"):
		var zr *zstd.Decoder
		if zr, err = zstd.NewReader(f); err == nil {
			err = extractTar(zr, dest)
			zr.Close()
		}
	case strings.HasSuffix(name, ".tar"):
		err = extractTar(f, dest)
	case strings.HasSuffix(name, ".zip"):
		err = extractZip(f.Name(), dest)
	default:
		return fmt.Errorf("%w: %s", errUnsupportedArchive, name)
	}
	if err != nil {
		return fmt.Errorf("extract %s: %w", name, err)
	}

	return stripSingleRoot(dest)
}

// safeJoin joins an archive member name to dest, refusing names that escape it
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("illegal path in archive: %s", name)
	}
	return target, nil
}

func extractTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeMember(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return err
			}
		}
	}
}

func extractZip(path, dest string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		target, err := safeJoin(dest, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		err = writeMember(target, rc, zf.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeMember(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func stripSingleRoot(dest string) error {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}
	root := filepath.Join(dest, entries[0].Name())
	inner, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range inner {
		if err := os.Rename(filepath.Join(root, e.Name()), filepath.Join(dest, e.Name())); err != nil {
			return err
		}
	}
	return os.Remove(root)
}
