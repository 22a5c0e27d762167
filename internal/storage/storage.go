package storage

import (
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Public-root subdirectories
const (
	UploadsDir = "uploads"
	QRCodesDir = "qrcodes"
	VideosDir  = "videos"
	MusicDir   = "music"
)

// StaticPrefix is the URL path the public root is served under.
const StaticPrefix = "/static/"

// stagingPrefix names in-flight upload batches under UploadsDir. The dot
// keeps them out of the static file server.
const stagingPrefix = ".incoming_"

// Storage manages the public file tree: uploaded photos, QR codes, videos
// and background music. Every stored path is relative to Root and uses
// forward slashes.
type Storage struct {
	Root    string
	baseURL string
}

// New resolves root to an absolute path. ffmpeg resolves relative concat
// entries against the list file, not the working directory.
func New(root, publicBaseURL string) *Storage {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Storage{
		Root:    root,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// EnsureLayout creates the public subdirectories and drops stale upload
// batches.
func (s *Storage) EnsureLayout() error {
	for _, dir := range []string{UploadsDir, QRCodesDir, VideosDir, MusicDir} {
		if err := os.MkdirAll(filepath.Join(s.Root, dir), 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	// Batches staged by a previous process were never committed.
	stale, err := filepath.Glob(filepath.Join(s.Root, UploadsDir, stagingPrefix+"*"))
	if err != nil {
		return err
	}
	for _, dir := range stale {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove stale upload batch: %w", err)
		}
	}
	return nil
}

// UploadDir is the directory holding a person's original photos.
func (s *Storage) UploadDir(personID int64) string {
	return filepath.Join(s.Root, UploadsDir, fmt.Sprintf("%d", personID))
}

// Upload is one file of an upload batch.
type Upload struct {
	Filename string
	Content  io.Reader
}

// Batch is an upload batch staged outside the person's upload directory.
// Nothing is visible to the pipeline until Commit.
type Batch struct {
	PersonID int64
	Names    []string // stored names in batch order

	dir    string
	target string
}

// StageUploads writes a batch under sanitized, batch-unique names into a
// private staging directory. Concurrent batches for the same person never
// share files. On failure the staging directory is removed.
func (s *Storage) StageUploads(personID int64, uploads []Upload) (*Batch, error) {
	parent := filepath.Join(s.Root, UploadsDir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	dir, err := os.MkdirTemp(parent, fmt.Sprintf("%s%d_", stagingPrefix, personID))
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	b := &Batch{
		PersonID: personID,
		Names:    make([]string, 0, len(uploads)),
		dir:      dir,
		target:   s.UploadDir(personID),
	}

	used := make(map[string]bool, len(uploads))
	for i, u := range uploads {
		name := uniqueName(SanitizeFilename(u.Filename, i+1), used)
		used[name] = true

		if err := writeFile(filepath.Join(dir, name), u.Content); err != nil {
			b.Discard()
			return nil, fmt.Errorf("failed to save %s: %w", name, err)
		}
		b.Names = append(b.Names, name)
	}

	return b, nil
}

// Commit moves the staged files into the person's upload directory.
func (b *Batch) Commit() error {
	defer b.Discard()

	if err := os.MkdirAll(b.target, 0755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	for _, name := range b.Names {
		if err := os.Rename(filepath.Join(b.dir, name), filepath.Join(b.target, name)); err != nil {
			return fmt.Errorf("failed to move %s into place: %w", name, err)
		}
	}

	log.Printf("[Storage] Saved %d upload(s) for person %d", len(b.Names), b.PersonID)
	return nil
}

// Discard removes the staging directory and anything still in it.
func (b *Batch) Discard() {
	if err := os.RemoveAll(b.dir); err != nil {
		log.Printf("[Storage] Failed to remove staging directory %s: %v", b.dir, err)
	}
}

// ListUploads returns the person's uploaded file names sorted by name. A
// missing directory yields an empty list.
func (s *Storage) ListUploads(personID int64) ([]string, error) {
	entries, err := os.ReadDir(s.UploadDir(personID))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// PublicURL maps a stored relative path to its absolute static URL.
func (s *Storage) PublicURL(relPath string) string {
	return s.baseURL + StaticPrefix + strings.TrimLeft(filepath.ToSlash(relPath), "/")
}

func writeFile(dst string, r io.Reader) error {
	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// SanitizeFilename keeps the base name's ASCII letters, digits, dots,
// dashes and underscores, turns spaces into underscores and strips
// leading dots. An empty result becomes image_{n}.
func SanitizeFilename(name string, n int) string {
	// Browsers on Windows may send full paths.
	name = name[strings.LastIndexAny(name, `/\`)+1:]

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}

	clean := strings.TrimLeft(b.String(), "._")
	if clean == "" {
		return fmt.Sprintf("image_%d", n)
	}
	return clean
}

func uniqueName(name string, used map[string]bool) string {
	if !used[name] {
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if !used[candidate] {
			return candidate
		}
	}
}
