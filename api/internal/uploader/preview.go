package uploader

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"sigverify/api/internal/util"
)

const previewMaxSide = 480

// thumbnail decodes the candidate and shrinks it to fit previewMaxSide.
func thumbnail(c Candidate) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(c.Data))
	if err != nil {
		return "", errors.Wrap(err, "decode preview")
	}
	small := resize.Thumbnail(previewMaxSide, previewMaxSide, img, resize.Lanczos3)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, small, &jpeg.Options{Quality: 85}); err != nil {
		return "", errors.Wrap(err, "encode preview")
	}
	return util.MakeDataURL("image/jpeg", out.Bytes()), nil
}

// buildPreview never fails: formats Go cannot decode are embedded as sent.
func buildPreview(c Candidate) (string, error) {
	if p, err := thumbnail(c); err == nil {
		return p, nil
	} else {
		return util.MakeDataURL(c.MediaType, c.Data), err
	}
}
