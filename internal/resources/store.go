package resources

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
)

const (
	thumbsDir        = "thumbs"
	thumbnailSize    = 300
	thumbnailQuality = 85
	// maxThumbnailPixels bounds the images decoded for a thumbnail. A small
	// compressed file can declare dimensions that need gigabytes to decode.
	maxThumbnailPixels = 40_000_000
)

var ErrImageTooLarge = errors.New("image dimensions too large for a thumbnail")

// FileStore keeps uploaded files flat in one directory, with image
// thumbnails in a thumbs subdirectory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, thumbsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

// path resolves a stored name inside the store. Only the base name is used
// so a crafted name cannot escape the directory.
func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

func (s *FileStore) thumbPath(name string) string {
	return filepath.Join(s.dir, thumbsDir, filepath.Base(name))
}

// Save writes r under name, failing if the name is already taken. It returns
// the number of bytes written.
func (s *FileStore) Save(name string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(s.path(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return 0, err
	}

	return n, nil
}

// SaveThumbnail decodes the stored image name and writes a JPEG thumbnail
// bounded by 300x300. It returns the thumbnail's stored name.
func (s *FileStore) SaveThumbnail(name string) (string, error) {
	src, err := os.Open(s.path(name))
	if err != nil {
		return "", err
	}
	defer src.Close()

	cfg, _, err := image.DecodeConfig(src)
	if err != nil {
		return "", fmt.Errorf("decode image config: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxThumbnailPixels {
		return "", fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrImageTooLarge)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	img, _, err := image.Decode(src)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	thumb := resize.Thumbnail(thumbnailSize, thumbnailSize, img, resize.Lanczos3)

	thumbName := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)) + ".jpg"
	dst, err := os.Create(s.thumbPath(thumbName))
	if err != nil {
		return "", err
	}

	err = jpeg.Encode(dst, thumb, &jpeg.Options{Quality: thumbnailQuality})
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}

	return thumbName, nil
}

// Remove deletes a stored file. A file that is already gone is not an error.
func (s *FileStore) Remove(name string) error {
	return removeIfExists(s.path(name))
}

func (s *FileStore) RemoveThumbnail(name string) error {
	return removeIfExists(s.thumbPath(name))
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
