package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/aed-compliance/platform/internal/shared/errors"
)

// DefaultMaxPhotoBytes caps a single photo upload.
const DefaultMaxPhotoBytes int64 = 10 << 20

// ObjectStore is the bucket interface the inspection module uploads to.
// *S3 implements it.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string) (string, error)
}

var imageTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// Photo is a validated image ready for upload.
type Photo struct {
	Data        []byte
	ContentType string
	Ext         string
}

// ReadPhoto reads at most maxBytes from r and checks that the content is a
// JPEG, PNG or WebP image. The type is sniffed from the bytes, not taken
// from the client.
func ReadPhoto(r io.Reader, maxBytes int64) (*Photo, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPhotoBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read photo")
	}
	if int64(len(data)) > maxBytes {
		return nil, errors.TooLarge(fmt.Sprintf("photo exceeds %d bytes", maxBytes))
	}
	if len(data) == 0 {
		return nil, errors.BadRequest("photo is empty")
	}

	contentType := http.DetectContentType(data)
	ext, ok := imageTypes[contentType]
	if !ok {
		return nil, errors.Validation("unsupported photo type", map[string]string{"content_type": contentType})
	}
	return &Photo{Data: data, ContentType: contentType, Ext: ext}, nil
}

// PhotoKey returns a fresh object key for a photo of an inspection.
func PhotoKey(inspectionID, ext string) string {
	return fmt.Sprintf("inspections/%s/%s.%s", inspectionID, uuid.NewString(), ext)
}
