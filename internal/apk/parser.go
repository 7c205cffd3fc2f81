// Package apk extracts identifying metadata from Android package files.
package apk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"appupdate/internal/models"

	"github.com/shogo82148/androidbinary/apk"
)

// ErrParse marks a package that could not be read as an APK.
var ErrParse = errors.New("apk parse error")

// Metadata is what an upload declares about itself plus the facts measured
// from its bytes.
type Metadata struct {
	PackageName  string
	VersionCode  int64
	VersionName  string
	Label        string
	FileSize     int64
	Checksum     string
	ChecksumType string
}

// Parser extracts metadata from the package at path.
type Parser interface {
	Parse(ctx context.Context, path string) (*Metadata, error)
}

// Manifest holds the raw manifest attributes. VersionCode is kept as text so
// the numeric interpretation stays in one place.
type Manifest struct {
	Package     string
	VersionCode string
	VersionName string
	Label       string
}

// ManifestReader reads the manifest of the package at path.
type ManifestReader func(path string) (*Manifest, error)

// APKParser is the Parser for Android packages.
type APKParser struct {
	readManifest ManifestReader
}

type Option func(*APKParser)

// WithManifestReader replaces the binary manifest decoder.
func WithManifestReader(r ManifestReader) Option {
	return func(p *APKParser) {
		p.readManifest = r
	}
}

func NewAPKParser(opts ...Option) *APKParser {
	p := &APKParser{readManifest: ReadManifest}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse reads the manifest and hashes the file. A version code that is not
// a non-negative integer is recorded as 0.
func (p *APKParser) Parse(ctx context.Context, path string) (*Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	manifest, err := p.safeReadManifest(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	packageName := strings.TrimSpace(manifest.Package)
	if packageName == "" {
		return nil, fmt.Errorf("%w: manifest has no package name", ErrParse)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	checksum, err := HashFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: hashing package: %v", ErrParse, err)
	}

	return &Metadata{
		PackageName:  packageName,
		VersionCode:  parseVersionCode(manifest.VersionCode),
		VersionName:  strings.TrimSpace(manifest.VersionName),
		Label:        strings.TrimSpace(manifest.Label),
		FileSize:     info.Size(),
		Checksum:     checksum,
		ChecksumType: models.ChecksumTypeSHA256,
	}, nil
}

// safeReadManifest turns a decoder panic on hostile input into an error.
func (p *APKParser) safeReadManifest(path string) (m *Manifest, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("manifest decoder panic: %v", r)
		}
	}()
	return p.readManifest(path)
}

// ReadManifest decodes AndroidManifest.xml and resolves the application label.
func ReadManifest(path string) (*Manifest, error) {
	pkg, err := apk.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer pkg.Close()

	manifest := pkg.Manifest()
	out := &Manifest{Package: pkg.PackageName()}

	if code, err := manifest.VersionCode.Int32(); err == nil {
		out.VersionCode = strconv.FormatInt(int64(code), 10)
	}
	if name, err := manifest.VersionName.String(); err == nil {
		out.VersionName = name
	}
	if label, err := pkg.Label(nil); err == nil {
		out.Label = label
	}

	return out, nil
}

// HashFile returns the hex SHA-256 of the file's full content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return HashReader(f)
}

func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func parseVersionCode(raw string) int64 {
	code, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || code < 0 {
		return 0
	}
	return code
}
