package encode

import (
	"fmt"
	"image"
)

// Encoder encodes one tile image for the XYZ directory pyramid BaseTiler and
// OverviewTiler write to <outpath>/<tilePath>/<z>/<x>/<y>.<ext> (§4.G/§4.H).
// There is no archive container here (no PMTiles, no MBTiles) so an Encoder
// only needs to answer the two questions the tiler package actually asks:
// what are the bytes, and what extension do they belong under.
type Encoder interface {
	// Encode encodes an image to bytes in the tile format.
	Encode(img image.Image) ([]byte, error)

	// Format returns the format name (e.g. "jpeg", "png", "webp"), also
	// accepted by DecodeImage to read a tile back.
	Format() string

	// FileExtension returns the tile file's extension, including the dot.
	FileExtension() string
}

// NewEncoder creates an encoder for the given format and quality.
func NewEncoder(format string, quality int) (Encoder, error) {
	switch format {
	case "jpeg", "jpg":
		return &JPEGEncoder{Quality: quality}, nil
	case "png":
		return &PNGEncoder{}, nil
	case "webp":
		return newWebPEncoder(quality)
	default:
		return nil, fmt.Errorf("unsupported tile format: %q (supported: jpeg, png, webp)", format)
	}
}
