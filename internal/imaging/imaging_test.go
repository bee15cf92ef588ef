package imaging

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(w, h)))
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	var jb bytes.Buffer
	require.NoError(t, jpeg.Encode(&jb, solid(8, 6), nil))
	var bb bytes.Buffer
	require.NoError(t, bmp.Encode(&bb, solid(4, 4)))

	tests := []struct {
		name    string
		data    []byte
		want    Info
		wantErr error
	}{
		{name: "png", data: encodePNG(t, 10, 5), want: Info{Format: FormatPNG, Width: 10, Height: 5}},
		{name: "jpeg", data: jb.Bytes(), want: Info{Format: FormatJPEG, Width: 8, Height: 6}},
		{name: "bmp", data: bb.Bytes(), want: Info{Format: FormatBMP, Width: 4, Height: 4}},
		{name: "garbage", data: []byte("not an image"), wantErr: ErrUnsupportedFormat},
		{name: "empty", data: nil, wantErr: ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	data := encodePNG(t, 40, 20)

	_, err := Validate(data, Options{MaxBytes: 10})
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = Validate(data, Options{MaxDim: 30})
	assert.ErrorIs(t, err, ErrDimensionsExceeded)

	info, err := Validate(data, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, info.Format)
}

func TestResizer_Resize(t *testing.T) {
	r := NewResizer(DefaultOptions())

	out, err := r.Resize(context.Background(), encodePNG(t, 40, 20))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", out.ContentType)
	assert.Equal(t, 20, out.Width)
	assert.Equal(t, 10, out.Height)

	info, err := Detect(out.Data)
	require.NoError(t, err)
	assert.Equal(t, Info{Format: FormatJPEG, Width: 20, Height: 10}, info)
}

func TestResizer_RejectsInvalid(t *testing.T) {
	r := NewResizer(Options{MaxDim: 16, Factor: 2, Quality: 70})

	_, err := r.Resize(context.Background(), encodePNG(t, 32, 8))
	assert.ErrorIs(t, err, ErrDimensionsExceeded)

	_, err = r.Resize(context.Background(), []byte("GIF89a"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestResizer_TinyImageKeepsOnePixel(t *testing.T) {
	out, err := NewResizer(DefaultOptions()).Resize(context.Background(), encodePNG(t, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Width)
	assert.Equal(t, 1, out.Height)
}

func TestFormat_Mappings(t *testing.T) {
	assert.Equal(t, "jpg", FormatJPEG.Ext())
	assert.Equal(t, "image/tiff", FormatTIFF.ContentType())
}
