package fingerprint

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"dredge/pkg/errors"
)

// gradientImage brightens left to right when ascending is true, right to
// left otherwise.
func gradientImage(ascending bool) image.Image {
	img := image.NewGray(image.Rect(0, 0, 90, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 90; x++ {
			v := uint8(x * 255 / 89)
			if !ascending {
				v = 255 - v
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	return buf.Bytes()
}

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b Hash
		want int
	}{
		{0, 0, 0},
		{0, 1, 1},
		{0, 0xffffffffffffffff, 64},
		{0b1010, 0b0101, 4},
	}
	for _, tt := range tests {
		if got := Distance(tt.a, tt.b); got != tt.want {
			t.Errorf("Distance(%x, %x) = %d, want %d", uint64(tt.a), uint64(tt.b), got, tt.want)
		}
	}
}

func TestHashStringRoundTrip(t *testing.T) {
	h := Hash(0xdeadbeef12345678)
	s := h.String()
	if s != "deadbeef12345678" {
		t.Fatalf("String = %q", s)
	}

	parsed, err := ParseHash(s)
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if parsed != h {
		t.Errorf("round trip = %v, want %v", parsed, h)
	}

	// Leading zeros survive the round trip.
	small := Hash(0x1)
	parsed, err = ParseHash(small.String())
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if parsed != small {
		t.Errorf("round trip = %v, want %v", parsed, small)
	}
}

func TestParseHashRejectsBadInput(t *testing.T) {
	for _, s := range []string{"", "zz", "deadbeef1234567", "not-a-hash-at-all", "deadbeef123456789"} {
		if _, err := ParseHash(s); err == nil {
			t.Errorf("ParseHash(%q) should fail", s)
		}
	}
}

func TestGradientHashes(t *testing.T) {
	asc, err := FromBytes(encodePNG(t, gradientImage(true)))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}

	// Every horizontal neighbor pair brightens left to right.
	if asc.DHash != Hash(0xffffffffffffffff) {
		t.Errorf("ascending gradient DHash = %v, want all ones", asc.DHash)
	}

	desc, err := FromBytes(encodePNG(t, gradientImage(false)))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if desc.DHash != Hash(0) {
		t.Errorf("descending gradient DHash = %v, want all zeros", desc.DHash)
	}
	if Distance(asc.DHash, desc.DHash) != 64 {
		t.Errorf("opposite gradients should be maximally distant")
	}
}

func TestHashingIsDeterministic(t *testing.T) {
	data := encodePNG(t, gradientImage(true))

	first, err := FromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	second, err := FromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}

	if first.DHash != second.DHash || first.AHash != second.AHash {
		t.Errorf("repeated hashing diverged: %v/%v vs %v/%v",
			first.DHash, first.AHash, second.DHash, second.AHash)
	}
}

func TestSmallPerturbationStaysClose(t *testing.T) {
	base := gradientImage(true).(*image.Gray)

	perturbed := image.NewGray(base.Rect)
	copy(perturbed.Pix, base.Pix)
	// Flip a small corner patch.
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			perturbed.SetGray(x, y, color.Gray{Y: 255})
		}
	}

	a, err := FromBytes(encodePNG(t, base))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	b, err := FromBytes(encodePNG(t, perturbed))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}

	if d := Distance(a.DHash, b.DHash); d > 8 {
		t.Errorf("corner patch moved DHash by %d bits, want <= 8", d)
	}
}

func TestFingerprintMetadata(t *testing.T) {
	fp, err := FromBytes(encodePNG(t, gradientImage(true)))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if fp.Width != 90 || fp.Height != 80 {
		t.Errorf("dimensions = %dx%d, want 90x80", fp.Width, fp.Height)
	}
	if fp.Format != "png" {
		t.Errorf("Format = %q, want png", fp.Format)
	}
}

func TestCorruptInput(t *testing.T) {
	_, err := FromBytes([]byte("definitely not an image"))
	if err == nil {
		t.Fatal("FromBytes should fail on garbage input")
	}
	if errors.TypeOf(err) != errors.ErrorTypeCorrupt {
		t.Errorf("TypeOf = %v, want corrupt_media", errors.TypeOf(err))
	}

	// Truncated PNG: valid header, unreadable pixel data.
	data := encodePNG(t, gradientImage(true))
	_, err = FromBytes(data[:40])
	if err == nil {
		t.Fatal("FromBytes should fail on truncated input")
	}
	if errors.TypeOf(err) != errors.ErrorTypeCorrupt {
		t.Errorf("TypeOf = %v, want corrupt_media", errors.TypeOf(err))
	}
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.png")
	if err := os.WriteFile(path, encodePNG(t, gradientImage(true)), 0644); err != nil {
		t.Fatalf("writing test image: %v", err)
	}

	fp, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if fp.DHash != Hash(0xffffffffffffffff) {
		t.Errorf("DHash = %v, want all ones", fp.DHash)
	}

	if _, err := FromFile(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("FromFile should fail on a missing file")
	}
}
