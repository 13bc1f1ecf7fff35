package library

import (
	_ "embed"
	"fmt"
)

// sampleLibrary is the starter prompt library baked into the binary so the
// CLI works without any data files on disk.
//
//go:embed data/prompts.json
var sampleLibrary []byte

// LoadEmbedded loads the baked-in sample library.
func LoadEmbedded() (*Library, error) {
	lib, err := Parse(sampleLibrary)
	if err != nil {
		return nil, fmt.Errorf("embedded library is corrupt: %w", err)
	}
	return lib, nil
}
