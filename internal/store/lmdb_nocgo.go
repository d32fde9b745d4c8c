//go:build !cgo

package store

import "errors"

// NewLMDBIndex requires cgo: the lmdb backend binds to the C LMDB library.
func NewLMDBIndex(dir string) (MetadataIndex, error) {
	return nil, errors.New("lmdb metadata backend requires a build with cgo enabled")
}
