// Package imaging validates uploaded images and produces downscaled JPEG copies.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

var (
	ErrUnsupportedFormat  = errors.New("unsupported image format")
	ErrTooLarge           = errors.New("image exceeds maximum size")
	ErrDimensionsExceeded = errors.New("image dimensions exceed maximum")
)

// Format is the decoder name reported by image.DecodeConfig.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

var extensions = map[Format]string{
	FormatJPEG: "jpg",
	FormatPNG:  "png",
	FormatBMP:  "bmp",
	FormatTIFF: "tiff",
}

var contentTypes = map[Format]string{
	FormatJPEG: "image/jpeg",
	FormatPNG:  "image/png",
	FormatBMP:  "image/bmp",
	FormatTIFF: "image/tiff",
}

// Ext is the file extension used in object keys.
func (f Format) Ext() string { return extensions[f] }

// ContentType is the MIME type stored with the object.
func (f Format) ContentType() string { return contentTypes[f] }

// Info describes a decoded image header.
type Info struct {
	Format Format
	Width  int
	Height int
}

// Detect reads only the image header.
func Detect(data []byte) (Info, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	f := Format(name)
	if _, ok := extensions[f]; !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	return Info{Format: f, Width: cfg.Width, Height: cfg.Height}, nil
}

// Options bounds accepted input and shapes the output.
type Options struct {
	MaxBytes int64
	MaxDim   int
	Factor   int
	Quality  int
}

// DefaultOptions matches the production policy: 10 MiB, 4000px, half size, quality 70.
func DefaultOptions() Options {
	return Options{MaxBytes: 10 * 1024 * 1024, MaxDim: 4000, Factor: 2, Quality: 70}
}

// Validate checks format, byte size and dimensions.
func Validate(data []byte, opt Options) (Info, error) {
	if opt.MaxBytes > 0 && int64(len(data)) > opt.MaxBytes {
		return Info{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	info, err := Detect(data)
	if err != nil {
		return Info{}, err
	}
	if opt.MaxDim > 0 && (info.Width > opt.MaxDim || info.Height > opt.MaxDim) {
		return Info{}, fmt.Errorf("%w: %dx%d", ErrDimensionsExceeded, info.Width, info.Height)
	}
	return info, nil
}

// Resized is a downscaled JPEG.
type Resized struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Resizer downsizes images by a fixed factor and re-encodes them as JPEG.
type Resizer struct {
	opt Options
}

func NewResizer(opt Options) *Resizer {
	if opt.Factor < 1 {
		opt.Factor = 1
	}
	if opt.Quality < 1 || opt.Quality > 100 {
		opt.Quality = jpeg.DefaultQuality
	}
	return &Resizer{opt: opt}
}

// Resize validates data, scales it down and encodes the result.
func (r *Resizer) Resize(ctx context.Context, data []byte) (Resized, error) {
	if _, err := Validate(data, r.opt); err != nil {
		return Resized{}, err
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Resized{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if err := ctx.Err(); err != nil {
		return Resized{}, err
	}

	b := src.Bounds()
	w, h := max(b.Dx()/r.opt.Factor, 1), max(b.Dy()/r.opt.Factor, 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: r.opt.Quality}); err != nil {
		return Resized{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return Resized{Data: buf.Bytes(), ContentType: "image/jpeg", Width: w, Height: h}, nil
}
