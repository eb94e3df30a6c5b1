package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

type PhotoStorage interface {
	SavePhoto(name string, data []byte) (string, error)
	URL(storedName string) string
}

// LocalPhotoStorage keeps normalized photos in a directory served under
// /uploads/.
type LocalPhotoStorage struct {
	Directory string
	BaseURL   string

	// Now is the prefix clock; tests pin it to force collisions.
	Now func() time.Time

	last atomic.Int64
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// maxCreateAttempts bounds the O_EXCL retry loop.
const maxCreateAttempts = 1000

// SanitizeFilename drops every character outside [a-zA-Z0-9._-] from the
// base name.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return unsafeFilenameChars.ReplaceAllString(filepath.Base(name), "")
}

// SavePhoto writes data under "<prefix>-<sanitized name>" and returns the
// stored file name. The prefix is a millisecond timestamp that strictly
// increases within the process; the file is created exclusively so a stored
// photo is never overwritten.
func (s *LocalPhotoStorage) SavePhoto(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Directory, 0o755); err != nil {
		return "", fmt.Errorf("create uploads directory: %w", err)
	}

	sanitized := SanitizeFilename(name)
	for range maxCreateAttempts {
		storedName := strconv.FormatInt(s.nextPrefix(), 10) + "-" + sanitized
		path := filepath.Join(s.Directory, storedName)

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", storedName, err)
		}

		if _, err := file.Write(data); err != nil {
			file.Close()
			os.Remove(path)
			return "", fmt.Errorf("write %s: %w", storedName, err)
		}
		if err := file.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("close %s: %w", storedName, err)
		}
		return storedName, nil
	}
	return "", fmt.Errorf("no free file name for %q after %d attempts", sanitized, maxCreateAttempts)
}

// URL returns the public address of a stored photo.
func (s *LocalPhotoStorage) URL(storedName string) string {
	return strings.TrimRight(s.BaseURL, "/") + "/uploads/" + url.PathEscape(storedName)
}

func (s *LocalPhotoStorage) nextPrefix() int64 {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ms := now().UnixMilli()
	for {
		last := s.last.Load()
		next := max(ms, last+1)
		if s.last.CompareAndSwap(last, next) {
			return next
		}
	}
}
