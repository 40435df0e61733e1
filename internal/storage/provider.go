// Package storage defines the workspace file-system abstraction.
package storage

import "github.com/weftlabs/weft/internal/models"

// DocSuffix is the file extension for rich document files in the workspace.
const DocSuffix = ".doc.json"

// Provider is the interface for workspace file operations. Document files and
// the delivery queue's durable blob both live behind this interface.
type Provider interface {
	// List returns metadata for every document file in the workspace.
	List() ([]models.DocumentMetadata, error)
	// Read returns the raw bytes of the file at path (relative to workspace root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to workspace root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to workspace root).
	Delete(path string) error
}
