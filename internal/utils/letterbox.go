package utils

import (
	"fmt"
	"image"
)

// Letterbox returns the rectangle inside a dstW x dstH canvas that a srcW x srcH
// image occupies after an aspect-preserving fit. The remainder is padding.
// Sizes are rounded down to even numbers because most pixel formats require it.
func Letterbox(srcW, srcH, dstW, dstH int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return image.Rect(0, 0, dstW, dstH)
	}

	w, h := dstW, dstW*srcH/srcW
	if h > dstH {
		w, h = dstH*srcW/srcH, dstH
	}
	w, h = max(w&^1, 2), max(h&^1, 2)
	w, h = min(w, dstW), min(h, dstH)

	x := (dstW - w) / 2
	y := (dstH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// LetterboxFilter builds the ffmpeg video filter that letterboxes the source
// into a dstW x dstH canvas. With unknown source dimensions it lets ffmpeg
// work out the fit itself.
func LetterboxFilter(srcW, srcH, dstW, dstH int) string {
	if srcW <= 0 || srcH <= 0 {
		return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black",
			dstW, dstH, dstW, dstH)
	}
	r := Letterbox(srcW, srcH, dstW, dstH)
	return fmt.Sprintf("scale=%d:%d,pad=%d:%d:%d:%d:black",
		r.Dx(), r.Dy(), dstW, dstH, r.Min.X, r.Min.Y)
}
