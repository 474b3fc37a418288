// Package imaging decodes fluoroscopic frames into grayscale rasters and
// fingerprints them for duplicate detection. Fingerprints are computed over a
// normalized form (full-range intensity rescale, canonical 256x256 resample)
// so re-exports of the same acquisition hash identically.
package imaging
