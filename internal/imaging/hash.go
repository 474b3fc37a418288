package imaging

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash fingerprints a raster as lowercase SHA-256 hex over its normalized
// pixels. Normalization happens here, so hashing a raster and hashing its
// normalized form produce the same digest.
func Hash(r *Raster) string {
	sum := sha256.Sum256(Normalize(r).Pix)
	return hex.EncodeToString(sum[:])
}

// HashBytes decodes an image payload and fingerprints it in one step.
func HashBytes(data []byte) (string, error) {
	raster, err := DecodeBytes(data)
	if err != nil {
		return "", err
	}
	return Hash(raster), nil
}

// HashFile decodes an image file and fingerprints it in one step.
func HashFile(path string) (string, error) {
	raster, err := DecodeFile(path)
	if err != nil {
		return "", err
	}
	return Hash(raster), nil
}
