// Package artifact stores uploaded package files on the local filesystem.
//
// Files live at {root}/{app}/{app}-{marker}.apk where app is the sanitized
// application identifier and marker is a version code or a temporary upload
// marker. Writes go to a temp file in the destination directory and are
// renamed into place, so readers never observe a partial artifact.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"appupdate/internal/models"
)

var (
	ErrEmptyFile   = errors.New("empty file")
	ErrInvalidName = errors.New("invalid file name")
	ErrInvalidKey  = errors.New("invalid storage key")
	ErrNotFound    = errors.New("artifact not found")
	ErrStorage     = errors.New("artifact storage failure")
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Object describes a stored artifact.
type Object struct {
	Key     string
	Path    string
	Size    int64
	ModTime time.Time
}

// Store is a file-backed artifact store. It is safe for concurrent use; two
// writers targeting the same key race only on the final rename.
type Store struct {
	root         string
	baseURL      string
	downloadPath string
}

// NewStore creates the root directory if needed.
func NewStore(cfg models.ArtifactConfig) (*Store, error) {
	cfg.Normalize()
	if cfg.RootDir == "" {
		return nil, errors.New("artifact root directory is required")
	}

	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("resolving artifact root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact root %s: %w", root, err)
	}

	return &Store{
		root:         root,
		baseURL:      cfg.BaseURL,
		downloadPath: cfg.DownloadPath,
	}, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string {
	return s.root
}

// SanitizeID maps an identifier onto [A-Za-z0-9._-]. A blank identifier
// becomes "unknown".
func SanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "unknown"
	}
	return unsafeChars.ReplaceAllString(id, "_")
}

// Key derives the storage key for an application and version marker.
func (s *Store) Key(appID, marker string) string {
	app := SanitizeID(appID)
	return app + "/" + app + "-" + SanitizeID(marker) + models.APKExtension
}

// URL builds the externally reachable download reference for key.
func (s *Store) URL(key string) string {
	return s.baseURL + s.downloadPath + "/" + key
}

// Path resolves key to an absolute file path inside the root.
func (s *Store) Path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	full := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return full, nil
}

// Put streams r into the artifact for (appID, marker). fileName is the
// caller-supplied upload name and is only checked, never used as a path.
func (s *Store) Put(ctx context.Context, r io.Reader, fileName, appID, marker string) (*Object, error) {
	if err := checkFileName(fileName); err != nil {
		return nil, err
	}
	return s.write(ctx, r, s.Key(appID, marker))
}

// Copy stores the bytes of srcKey again under the key for (appID, marker).
func (s *Store) Copy(ctx context.Context, srcKey, appID, marker string) (*Object, error) {
	src, _, err := s.Open(srcKey)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return s.write(ctx, src, s.Key(appID, marker))
}

// Open returns the artifact file for reading. The caller closes it.
func (s *Store) Open(key string) (*os.File, *Object, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, nil, fmt.Errorf("%w: opening %s: %v", ErrStorage, key, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: stat %s: %v", ErrStorage, key, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	return f, &Object{Key: key, Path: path, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Exists reports whether key names a stored artifact.
func (s *Store) Exists(key string) (bool, error) {
	_, err := s.stat(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Size returns the artifact size in bytes.
func (s *Store) Size(key string) (int64, error) {
	info, err := s.stat(key)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Delete removes the artifact. It reports false, nil when nothing was there.
func (s *Store) Delete(key string) (bool, error) {
	path, err := s.Path(key)
	if err != nil {
		return false, err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: removing %s: %v", ErrStorage, key, err)
	}
	return true, nil
}

func (s *Store) stat(key string) (os.FileInfo, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrStorage, key, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return info, nil
}

// write copies r into a temp file next to the destination and renames it
// into place once the copy is complete and non-empty.
func (s *Store) write(ctx context.Context, r io.Reader, key string) (*Object, error) {
	finalPath, err := s.Path(key)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating directory %s: %v", ErrStorage, dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".upload-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: creating temp file: %v", ErrStorage, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	size, err := io.Copy(tmpFile, &contextReader{ctx: ctx, r: r})
	if err != nil {
		tmpFile.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: writing %s: %v", ErrStorage, key, err)
	}
	if size == 0 {
		tmpFile.Close()
		return nil, ErrEmptyFile
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("%w: syncing %s: %v", ErrStorage, key, err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing temp file: %v", ErrStorage, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("%w: renaming into %s: %v", ErrStorage, key, err)
	}
	success = true

	return &Object{Key: key, Path: finalPath, Size: size, ModTime: time.Now()}, nil
}

func checkFileName(fileName string) error {
	if strings.TrimSpace(fileName) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.Contains(fileName, "..") {
		return fmt.Errorf("%w: %q contains a path traversal sequence", ErrInvalidName, fileName)
	}
	if !strings.EqualFold(filepath.Ext(fileName), models.APKExtension) {
		return fmt.Errorf("%w: %q is not an %s file", ErrInvalidName, fileName, models.APKExtension)
	}
	return nil
}

// contextReader stops a long copy once the request is gone.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
