package storage

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidApplicantID is returned for IDs that cannot be used as a path element
var ErrInvalidApplicantID = stderrors.New("invalid applicant ID")

var applicantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidApplicantID reports whether id is safe to embed in file names and directories.
func ValidApplicantID(id string) bool {
	return applicantIDPattern.MatchString(id)
}

func checkApplicantID(id string) error {
	if !ValidApplicantID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidApplicantID, id)
	}
	return nil
}

// FileStore keeps uploads on the local filesystem:
//
//	<root>/temp/<folder>/<applicant>_<uuid><ext>
//	<root>/permanent/<folder>/<applicant>/<applicant>_<uuid><ext>
type FileStore struct {
	root string
}

// NewFileStore creates the temp and permanent trees under root.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("upload root is required")
	}
	for _, dir := range []string{"temp", "permanent"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s tree: %w", dir, err)
		}
	}
	return &FileStore{root: root}, nil
}

// Root returns the store's base directory.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) tempDir(folder string) string {
	return filepath.Join(s.root, "temp", folder)
}

// PermanentDir is where committed files of one applicant and type live.
func (s *FileStore) PermanentDir(folder, applicantID string) string {
	return filepath.Join(s.root, "permanent", folder, applicantID)
}

// WriteTemp stores data under a fresh unique name and returns its path.
func (s *FileStore) WriteTemp(folder, applicantID, ext string, data []byte) (string, error) {
	if err := checkApplicantID(applicantID); err != nil {
		return "", err
	}
	dir := s.tempDir(folder)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s%s", applicantID, uuid.New().String(), ext))
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return path, nil
}

// Exists reports whether path is a regular file.
func (s *FileStore) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes paths, ignoring those already gone.
func (s *FileStore) Remove(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Move renames src to dst, copying across filesystems when rename is not possible.
func (s *FileStore) Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("failed to move %s: %w", src, err)
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// PurgePermanent removes every committed file of one applicant and type.
func (s *FileStore) PurgePermanent(folder, applicantID string) error {
	if folder == "" {
		return fmt.Errorf("refusing to purge without a folder")
	}
	if err := checkApplicantID(applicantID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.PermanentDir(folder, applicantID)); err != nil {
		return fmt.Errorf("failed to purge permanent files: %w", err)
	}
	return nil
}

// StaleTempFiles lists temp files last modified before cutoff.
func (s *FileStore) StaleTempFiles(cutoff time.Time) ([]string, error) {
	var stale []string
	err := filepath.WalkDir(filepath.Join(s.root, "temp"), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan temp tree: %w", err)
	}
	return stale, nil
}
