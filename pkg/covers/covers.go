// Package covers serves book cover images. Covers are read from the book
// file on demand and always delivered as JPEG; thumbnails are cached on disk
// under the book's fingerprint, so a changed file gets a fresh thumbnail.
package covers

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	// Registered decoders for embedded cover formats.
	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shelfopds/shelfopds/pkg/extractor"
	"github.com/shelfopds/shelfopds/pkg/models"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"
)

const (
	ThumbnailWidth  = 200
	ThumbnailHeight = 300

	jpegQuality = 85
)

// ErrNoCover is returned for a book without an embedded cover.
var ErrNoCover = errors.New("book has no cover")

type Service struct {
	cacheDir string
	group    singleflight.Group
}

// New creates a cover service caching thumbnails in cacheDir. An empty
// cacheDir disables the cache.
func New(cacheDir string) *Service {
	return &Service{cacheDir: cacheDir}
}

// Cover returns the book's cover as JPEG. JPEG covers are returned
// untouched; other formats are re-encoded.
func (svc *Service) Cover(ctx context.Context, book *models.Book) ([]byte, error) {
	data, contentType, err := svc.extract(book)
	if err != nil {
		return nil, err
	}
	if contentType == "image/jpeg" {
		return data, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		logger.FromContext(ctx).Err(err).Warn("undecodable cover", logger.Data{"book_id": book.ID, "content_type": contentType})
		return nil, errors.Wrap(ErrNoCover, err.Error())
	}
	return encode(img)
}

// Thumbnail returns the cover scaled to fit ThumbnailWidth x
// ThumbnailHeight.
func (svc *Service) Thumbnail(ctx context.Context, book *models.Book) ([]byte, error) {
	log := logger.FromContext(ctx)
	cachePath := svc.cachePath(book.ID)

	if cachePath != "" {
		if data, err := os.ReadFile(cachePath); err == nil {
			return data, nil
		}
	}

	v, err, _ := svc.group.Do(book.ID, func() (interface{}, error) {
		data, _, err := svc.extract(book)
		if err != nil {
			return nil, err
		}
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, errors.Wrap(ErrNoCover, err.Error())
		}
		thumb, err := encode(imaging.Fit(img, ThumbnailWidth, ThumbnailHeight, imaging.Lanczos))
		if err != nil {
			return nil, err
		}
		if cachePath != "" {
			if err := writeCache(cachePath, thumb); err != nil {
				log.Err(err).Warn("failed to cache thumbnail", logger.Data{"path": cachePath})
			}
		}
		return thumb, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (svc *Service) extract(book *models.Book) ([]byte, string, error) {
	if !book.HasCover {
		return nil, "", errors.WithStack(ErrNoCover)
	}
	raw, err := os.ReadFile(book.Filepath)
	if err != nil {
		return nil, "", errors.WithStack(err)
	}
	data, contentType, err := extractor.Cover(raw, book.Filepath)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", errors.WithStack(ErrNoCover)
	}
	return data, contentType, nil
}

func (svc *Service) cachePath(id string) string {
	if svc.cacheDir == "" || id == "" {
		return ""
	}
	return filepath.Join(svc.cacheDir, "thumbnails", id+".jpg")
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

// writeCache writes through a temp file so readers never see a partial
// thumbnail.
func writeCache(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithStack(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".thumb-*")
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.WithStack(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(tmp.Name(), path))
}
