package uploader

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"sigverify/api/internal/util"
)

// MaxFileSize is the default upload limit, 5 MiB.
const MaxFileSize = 5 * 1024 * 1024

var (
	ErrNotImage = errors.New("please upload an image file")
	ErrTooLarge = errors.New("file size must be less than 5MB")
)

// Candidate is one user-selected image.
type Candidate struct {
	Name      string
	MediaType string
	Data      []byte
}

// NewCandidate fills MediaType from the declared type, falling back to sniffing the bytes.
func NewCandidate(name, declared string, data []byte) Candidate {
	return Candidate{Name: name, MediaType: util.PickMIME(declared, "", data), Data: data}
}

func (c Candidate) Size() int64 { return int64(len(c.Data)) }

// Check validates the candidate locally against maxBytes.
func (c Candidate) Check(maxBytes int64) error {
	if !strings.HasPrefix(strings.ToLower(c.MediaType), "image/") {
		return ErrNotImage
	}
	if c.Size() > maxBytes {
		if maxBytes != MaxFileSize {
			return errors.Wrapf(ErrTooLarge, "limit is %s", humanSize(maxBytes))
		}
		return ErrTooLarge
	}
	return nil
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
