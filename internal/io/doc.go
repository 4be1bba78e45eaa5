// Package ioutils provides file system utilities for the download engine.
//
// This package contains functions for:
//   - Deriving a local file name from a download URL
//   - Filename sanitization for cross-platform compatibility
//   - Directory creation and existence checks
//   - Atomic file writes for state files
//
// # File Names
//
//	name := ioutils.FileNameFromURL("https://h/files/My%20Report.pdf") // "My Report.pdf"
//	safe := ioutils.SanitizeFileName("Song: Part 1/2")                 // "Song_ Part 1_2"
//
// # File Operations
//
//	// Ensure directory exists
//	err := ioutils.EnsureDir("/path/to/new/directory")
//
//	// Replace a file without leaving a half-written copy behind
//	err = ioutils.WriteFileAtomic("/path/to/state.json", data)
package ioutils
