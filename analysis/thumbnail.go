package analysis

import (
	"crypto/md5"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
)

// writeThumbnail encodes a JPEG from a raw RGB24 buffer, downscaling to
// targetWidth (height preserves aspect ratio) with nearest-neighbor
// sampling, and writes it to thumbnailDir/<md5(videoPath)>_<frameIdx>.jpeg.
// Frames are already decoded in memory by this point, so resizing with
// stdlib image/jpeg plus a small nearest-neighbor pass avoids spawning a
// second ffmpeg process per frame.
func writeThumbnail(pixels []byte, srcW, srcH int, videoPath string, frameIdx int, thumbnailDir string, targetWidth, quality int) (string, error) {
	if thumbnailDir == "" || srcW == 0 || srcH == 0 {
		return "", nil
	}

	dstW, dstH := targetWidth, int(float64(srcH)*float64(targetWidth)/float64(srcW))
	if dstW <= 0 {
		dstW = srcW
	}
	if dstH <= 0 {
		dstH = srcH
	}

	img := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	for y := 0; y < dstH; y++ {
		srcY := y * srcH / dstH
		for x := 0; x < dstW; x++ {
			srcX := x * srcW / dstW
			i := (srcY*srcW + srcX) * 3
			if i+2 >= len(pixels) {
				continue
			}
			img.Set(x, y, rgbColor{pixels[i], pixels[i+1], pixels[i+2]})
		}
	}

	name := fmt.Sprintf("%x_%d.jpeg", md5.Sum([]byte(videoPath)), frameIdx)
	outPath := filepath.Join(thumbnailDir, name)

	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("creating thumbnail file: %w", err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encoding thumbnail: %w", err)
	}
	return outPath, nil
}

// rgbColor adapts a raw RGB24 triple to image/color.Color without an alpha
// channel allocation per pixel.
type rgbColor struct {
	r, g, b byte
}

func (c rgbColor) RGBA() (r, g, b, a uint32) {
	return uint32(c.r) * 0x101, uint32(c.g) * 0x101, uint32(c.b) * 0x101, 0xffff
}
