// Package dicomsafe parses DICOM payloads, extracts pixel data and
// acquisition timestamps, and strips patient-identifying tags before frames
// leave the local machine.
package dicomsafe
