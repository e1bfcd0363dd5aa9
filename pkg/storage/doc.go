// Package storage is the local blob store for downloaded media files.
//
// Files are written atomically (temporary file plus rename), so nothing
// under a final name is ever truncated, and re-saving the same record id
// overwrites the previous copy. An in-memory index built from the media
// directory on startup makes already-downloaded checks cheap when a run
// resumes.
package storage
