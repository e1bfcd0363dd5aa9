// Package fingerprint computes perceptual hashes of still images. Two
// hashes are derived per image: a difference hash over horizontal
// gradients, which drives near-duplicate clustering, and an average hash
// kept as a secondary signal. Visually similar images land within a small
// Hamming distance of each other even across re-encodes and mild resizes.
package fingerprint

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"dredge/pkg/errors"
)

// Fingerprint is the result of hashing one image.
type Fingerprint struct {
	DHash  Hash
	AHash  Hash
	Width  int
	Height int
	Format string
}

// FromFile hashes the image stored at path.
func FromFile(path string) (*Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypePermanent, fmt.Sprintf("opening %s", path), err)
	}
	defer f.Close()
	return FromReader(f)
}

// FromBytes hashes an in-memory image.
func FromBytes(data []byte) (*Fingerprint, error) {
	return FromReader(bytes.NewReader(data))
}

// FromReader decodes the image and computes both hashes. Undecodable
// input is reported as corrupt media.
func FromReader(r io.Reader) (*Fingerprint, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeCorrupt, "decoding image", err)
	}

	bounds := img.Bounds()
	return &Fingerprint{
		DHash:  dhash(img),
		AHash:  ahash(img),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: format,
	}, nil
}

// dhash reduces the image to a 9x8 grayscale grid and sets one bit per
// horizontal neighbor pair, high when brightness increases left to right.
// Bits are packed row-major, most significant first.
func dhash(img image.Image) Hash {
	grid := grayGrid(img, 9, 8)

	var h uint64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			h <<= 1
			if grid[y][x+1] > grid[y][x] {
				h |= 1
			}
		}
	}
	return Hash(h)
}

// ahash reduces the image to an 8x8 grayscale grid and sets one bit per
// cell brighter than the grid mean. Bits are packed row-major, most
// significant first.
func ahash(img image.Image) Hash {
	grid := grayGrid(img, 8, 8)

	var sum float64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			sum += grid[y][x]
		}
	}
	mean := sum / 64

	var h uint64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			h <<= 1
			if grid[y][x] > mean {
				h |= 1
			}
		}
	}
	return Hash(h)
}

// grayGrid box-averages the image down to a w×h grayscale grid in a
// single pass over the source pixels.
func grayGrid(img image.Image, w, h int) [][]float64 {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	sums := make([][]float64, h)
	counts := make([][]int, h)
	for y := range sums {
		sums[y] = make([]float64, w)
		counts[y] = make([]int, w)
	}

	for sy := 0; sy < srcH; sy++ {
		cy := sy * h / srcH
		for sx := 0; sx < srcW; sx++ {
			cx := sx * w / srcW
			g := color.GrayModel.Convert(img.At(bounds.Min.X+sx, bounds.Min.Y+sy)).(color.Gray)
			sums[cy][cx] += float64(g.Y)
			counts[cy][cx]++
		}
	}

	grid := make([][]float64, h)
	for y := 0; y < h; y++ {
		grid[y] = make([]float64, w)
		for x := 0; x < w; x++ {
			if counts[y][x] > 0 {
				grid[y][x] = sums[y][x] / float64(counts[y][x])
			}
		}
	}
	return grid
}
