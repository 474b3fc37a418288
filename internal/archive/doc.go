// Package archive provides the transport client for the imaging archive,
// with filesystem, S3-compatible, and in-memory backends.
package archive
