// Package images - Image definition and loading utilities.
package images

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Image represents an image with a format, data, width, and height.
type Image struct {
	// The path the image was read from, if any.
	Path string `json:"path" yaml:"path"`
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatBMP is the BMP image format.
	FormatBMP ImageFormat = "bmp"
	// FormatGIF is the GIF image format; only the first frame is used.
	FormatGIF ImageFormat = "gif"
	// FormatTIFF is the TIFF image format.
	FormatTIFF ImageFormat = "tiff"
)

// ErrUnsupportedFormat is returned for data that is not a known image format.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// FormatFromPath maps a file extension to an ImageFormat.
//
// Arguments:
//   - path: The file path.
//
// Returns:
//   - ImageFormat: The detected format.
//   - bool: False if the extension is not supported.
func FormatFromPath(path string) (ImageFormat, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG, true
	case ".png":
		return FormatPNG, true
	case ".webp":
		return FormatWebP, true
	case ".bmp":
		return FormatBMP, true
	case ".gif":
		return FormatGIF, true
	case ".tif", ".tiff":
		return FormatTIFF, true
	default:
		return "", false
	}
}

// Load reads an image file and its dimensions without decoding the pixels.
// Files without a known extension are identified from their header.
//
// Arguments:
//   - path: Path to the image file.
//
// Returns:
//   - *Image: The loaded image.
//   - error: An error if the file cannot be read or is not an image.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image %s", path)
	}

	format, ok := FormatFromPath(path)
	if !ok {
		img, err := FromBytes(data)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", path)
		}
		img.Path = path
		return img, nil
	}

	img := &Image{Path: path, Format: format, Data: data}
	width, height, err := img.dimensions()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image header %s", path)
	}
	img.Width, img.Height = width, height

	return img, nil
}

// FromBytes wraps encoded image data held in memory, detecting the format
// from its header.
//
// Arguments:
//   - data: The encoded image.
//
// Returns:
//   - *Image: The image, without a path.
//   - error: ErrUnsupportedFormat if the data is not a known image format.
func FromBytes(data []byte) (*Image, error) {
	if isWebP(data) {
		img := &Image{Format: FormatWebP, Data: data}
		width, height, err := img.dimensions()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read webp header")
		}
		img.Width, img.Height = width, height
		return img, nil
	}

	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(ErrUnsupportedFormat, err.Error())
	}
	return &Image{Format: ImageFormat(name), Data: data, Width: cfg.Width, Height: cfg.Height}, nil
}

func isWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// Decode decodes the image data into an image.Image.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: An error if decoding fails.
func (i *Image) Decode() (image.Image, error) {
	if len(i.Data) == 0 {
		return nil, errors.New("image data is empty")
	}

	if i.Format == FormatWebP {
		decoded, err := webp.Decode(bytes.NewReader(i.Data))
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode webp")
		}
		return decoded, nil
	}

	decoded, _, err := image.Decode(bytes.NewReader(i.Data))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", i.Format)
	}
	return decoded, nil
}

func (i *Image) dimensions() (int, int, error) {
	if i.Format == FormatWebP {
		width, height, _, err := webp.GetInfo(i.Data)
		return width, height, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(i.Data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
