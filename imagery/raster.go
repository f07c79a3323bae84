package imagery

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	// Register the raster decoders the upload filter accepts.
	_ "image/gif"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// decodeFile decodes a raster file using whichever registered decoder
// matches its magic bytes (png, jpeg, gif, tiff, webp).
func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// decodeConfigFile reads only the image header for dimensions.
func decodeConfigFile(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	return cfg, err
}

// scaleToFit returns img resized so neither dimension exceeds maxDim,
// preserving aspect ratio. Images already within bounds are returned
// unchanged (never upscale).
func scaleToFit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	var nw, nh int
	if w >= h {
		nw = maxDim
		nh = h * maxDim / w
	} else {
		nh = maxDim
		nw = w * maxDim / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// coverCrop returns a size×size center crop of img scaled so the shorter
// side covers the square (thumbnail semantics).
func coverCrop(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	// Scale so the shorter side equals size.
	var sw, sh int
	if w < h {
		sw = size
		sh = h * size / w
	} else {
		sh = size
		sw = w * size / h
	}
	if sw < size {
		sw = size
	}
	if sh < size {
		sh = size
	}
	scaled := image.NewRGBA(image.Rect(0, 0, sw, sh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Over, nil)

	// Center crop.
	x0 := (sw - size) / 2
	y0 := (sh - size) / 2
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), scaled, image.Pt(x0, y0), draw.Src)
	return dst
}

// writePNG encodes img losslessly to path and fsyncs before returning, so
// the catalog row referencing the file is only written after the bytes
// are durable.
func writePNG(path string, img image.Image) (int64, error) {
	return writeImage(path, func(w io.Writer) error { return png.Encode(w, img) })
}

// writeJPEG encodes img to path at the given quality and fsyncs.
func writeJPEG(path string, img image.Image, quality int) (int64, error) {
	return writeImage(path, func(w io.Writer) error {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	})
}

func writeImage(path string, encode func(io.Writer) error) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	if err := encode(f); err != nil {
		f.Close()
		os.Remove(path)
		return 0, fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return 0, fmt.Errorf("sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// copyFileSync copies src to dst verbatim and fsyncs dst.
func copyFileSync(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return 0, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return 0, err
	}
	return n, out.Close()
}
