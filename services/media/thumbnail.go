package mediasvc

import (
	"bytes"
	"image"
	"io"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/learnplus/learnplus/core"
)

type thumbnailer struct {
	width, height int
	quality       float32
}

var _ core.ImageProcessor = (*thumbnailer)(nil)

// NewThumbnailer crops images to width x height and encodes them to WebP.
func NewThumbnailer(conf *core.Config) *thumbnailer {
	return &thumbnailer{
		width:   conf.Media.ThumbnailWidth,
		height:  conf.Media.ThumbnailHeight,
		quality: conf.Media.ThumbnailQuality,
	}
}

func decodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}
	// imaging only knows the formats of the standard library
	if wimg, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
		return wimg, nil
	}
	return nil, err
}

func (t *thumbnailer) Thumbnail(r io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", errors.Wrap(err, "reading image")
	}
	if len(data) == 0 {
		return nil, "", errors.New("empty image")
	}
	img, err := decodeImage(data)
	if err != nil {
		return nil, "", errors.Wrap(err, "decoding image")
	}

	thumb := imaging.Fill(img, t.width, t.height, imaging.Center, imaging.Lanczos)
	buf := new(bytes.Buffer)
	if err = webp.Encode(buf, thumb, &webp.Options{Quality: t.quality}); err != nil {
		return nil, "", errors.Wrap(err, "encoding thumbnail")
	}
	return buf.Bytes(), "image/webp", nil
}
