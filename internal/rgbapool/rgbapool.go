// Package rgbapool pools *image.RGBA buffers by dimension, used by BaseTiler
// for its 256x256 tile buffer and by OverviewTiler (§4.H) for its 512x512
// composite and 256x256 output, so neither allocates fresh buffers per tile.
//
// Adapted from the teacher's internal/tile/rgbapool.go, unchanged in
// substance (this is pure Go buffer-reuse bookkeeping with no GDAL or
// domain dependency, so it carries over as-is).
package rgbapool

import (
	"image"
	"sync"
)

type poolKey struct {
	w, h int
}

// pools maps (width, height) -> *sync.Pool of *image.RGBA. In practice this
// repo uses two sizes (256x256 tiles and 512x512 overview composites), so
// the map stays at two entries; sync.Map avoids a mutex on what is otherwise OverviewTiler's
// hottest allocation path.
var pools sync.Map

// Get returns a zeroed *image.RGBA of size w x h from the pool, or
// allocates a new one if none is available.
func Get(w, h int) *image.RGBA {
	key := poolKey{w, h}
	if p, ok := pools.Load(key); ok {
		if v := p.(*sync.Pool).Get(); v != nil {
			img := v.(*image.RGBA)
			clear(img.Pix)
			return img
		}
	}
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

// Put returns img to its size's pool for reuse. Nil images are ignored.
func Put(img *image.RGBA) {
	if img == nil {
		return
	}
	key := poolKey{img.Rect.Dx(), img.Rect.Dy()}
	p, _ := pools.LoadOrStore(key, &sync.Pool{})
	p.(*sync.Pool).Put(img)
}
