package dict

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/skypro1111/asr-session-client/internal/transcription"
)

// Load reads a dictionary from a .yaml/.yml or .json file
func Load(path string) (transcription.Dict, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return transcription.Dict{}, fmt.Errorf("failed to read dictionary file %s: %w", path, err)
	}

	var d transcription.Dict
	if isYAML(path) {
		err = yaml.Unmarshal(data, &d)
	} else {
		err = json.Unmarshal(data, &d)
	}
	if err != nil {
		return transcription.Dict{}, fmt.Errorf("failed to parse dictionary file %s: %w", path, err)
	}

	if d.Entries == nil {
		d.Entries = []transcription.DictEntry{}
	}
	return d, nil
}

// Save writes d to path, choosing the format from the extension
func Save(path string, d transcription.Dict) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(d)
	} else {
		data, err = json.MarshalIndent(d, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode dictionary: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write dictionary file %s: %w", path, err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
