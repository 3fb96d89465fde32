// Package attachment stores files sent inline with chat messages. Files are
// written once under time-based names and served back read-only.
package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// ErrInvalidName is returned for names that would escape the store root.
var ErrInvalidName = errors.New("invalid attachment name")

const defaultExt = "bin"

// Store is a write-once blob store rooted in an afero filesystem.
type Store struct {
	fs  afero.Fs
	now func() time.Time

	mu    sync.Mutex
	stamp int64
}

// NewStore returns a Store writing under root on the OS filesystem.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", root, err)
	}
	return NewStoreFs(afero.NewBasePathFs(afero.NewOsFs(), root)), nil
}

// NewStoreFs returns a Store over an arbitrary afero filesystem.
func NewStoreFs(fs afero.Fs) *Store {
	return &Store{fs: fs, now: time.Now}
}

// Filename derives a unique name for an upload called original. The stem is
// the current unix time in milliseconds, bumped so that it strictly
// increases within the process; the extension is taken from original.
func (s *Store) Filename(original string) string {
	s.mu.Lock()
	stamp := s.now().UnixMilli()
	if stamp <= s.stamp {
		stamp = s.stamp + 1
	}
	s.stamp = stamp
	s.mu.Unlock()

	return strconv.FormatInt(stamp, 10) + "." + Extension(original)
}

// Extension returns the sanitised extension of name: the text after the
// last dot, lowercased and restricted to ASCII letters and digits.
func Extension(name string) string {
	ext := name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		ext = name[i+1:]
	}
	ext = strings.ToLower(ext)

	var b strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == 16 {
			break
		}
	}
	if b.Len() == 0 {
		return defaultExt
	}
	return b.String()
}

// DecodeDataURL decodes the base64 payload of a data URL
// ("data:image/png;base64,...."). A payload without a comma is decoded as
// bare base64.
func DecodeDataURL(data string) ([]byte, error) {
	payload := data
	if i := strings.IndexByte(data, ','); i >= 0 {
		payload = data[i+1:]
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode attachment payload: %w", err)
	}
	return decoded, nil
}

// Save writes data under name. Existing files are never overwritten.
func (s *Store) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validName(name) {
		return ErrInvalidName
	}

	f, err := s.fs.OpenFile("/"+name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Open opens a stored attachment for reading.
func (s *Store) Open(name string) (afero.File, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	return s.fs.Open("/" + name)
}

// Handler serves stored attachments. Mount it with http.StripPrefix.
// Names are rooted at "/" in the filesystem, matching http.FileServer.
func (s *Store) Handler() http.Handler {
	return http.FileServer(afero.NewHttpFs(s.fs))
}

func validName(name string) bool {
	return name != "" && name == path.Base(name) && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
