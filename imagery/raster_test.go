package imagery

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func writeTestPNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestScaleToFit(t *testing.T) {
	tests := []struct {
		w, h   int
		maxDim int
		wantW  int
		wantH  int
	}{
		{5000, 3000, 3000, 3000, 1800},
		{3000, 5000, 3000, 1800, 3000},
		{4000, 4000, 3000, 3000, 3000},
		{2999, 1200, 3000, 2999, 1200}, // within bounds: untouched
		{10, 10, 3000, 10, 10},         // never upscale
	}
	for _, tt := range tests {
		src := solidImage(tt.w, tt.h, color.RGBA{R: 200, A: 255})
		got := scaleToFit(src, tt.maxDim)
		b := got.Bounds()
		if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
			t.Errorf("scaleToFit(%dx%d, %d) = %dx%d, want %dx%d",
				tt.w, tt.h, tt.maxDim, b.Dx(), b.Dy(), tt.wantW, tt.wantH)
		}
	}
}

func TestCoverCrop(t *testing.T) {
	for _, dims := range [][2]int{{1600, 900}, {900, 1600}, {512, 512}, {100, 300}} {
		src := solidImage(dims[0], dims[1], color.RGBA{G: 180, A: 255})
		got := coverCrop(src, 512)
		b := got.Bounds()
		if b.Dx() != 512 || b.Dy() != 512 {
			t.Errorf("coverCrop(%dx%d, 512) = %dx%d", dims[0], dims[1], b.Dx(), b.Dy())
		}
	}
}

func TestDerivativePath(t *testing.T) {
	tests := []struct {
		in, suffix, ext, want string
	}{
		{"/data/uploads/abc.jpg", "_preview", ".png", "/data/uploads/abc_preview.png"},
		{"/data/uploads/abc.psd", "_thumb", ".jpg", "/data/uploads/abc_thumb.jpg"},
		{"/data/uploads/noext", "_preview", ".png", "/data/uploads/noext_preview.png"},
	}
	for _, tt := range tests {
		if got := derivativePath(tt.in, tt.suffix, tt.ext); got != tt.want {
			t.Errorf("derivativePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteAndDecodeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.png")
	size, err := writePNG(path, solidImage(8, 6, color.RGBA{B: 255, A: 255}))
	if err != nil {
		t.Fatal(err)
	}
	if size <= 0 {
		t.Fatalf("size = %d", size)
	}
	img, err := decodeFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
		t.Fatalf("decoded %dx%d, want 8x6", b.Dx(), b.Dy())
	}

	cfg, err := decodeConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 8 || cfg.Height != 6 {
		t.Fatalf("config %dx%d, want 8x6", cfg.Width, cfg.Height)
	}
}

func TestWriteJPEG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jpg")
	if _, err := writeJPEG(path, solidImage(16, 16, color.RGBA{R: 90, G: 90, B: 90, A: 255}), 85); err != nil {
		t.Fatal(err)
	}
	if _, err := decodeFile(path); err != nil {
		t.Fatal(err)
	}
}

func TestCopyFileSync(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	payload := []byte("not an image at all")
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := copyFileSync(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("copied %d bytes, want %d", n, len(payload))
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Fatalf("dst content %q", got)
	}
}
