package config

import (
	"encoding/json"
	"fmt"
	"os"

	"support-agent/internal/models"
)

// LoadSeedDocuments reads knowledge-base seed documents from a JSON file.
// The file holds an array of seed documents; each entry is validated so a
// malformed seed file fails loudly instead of producing empty chunks.
func LoadSeedDocuments(path string) ([]models.SeedDocument, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var docs []models.SeedDocument
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&docs); err != nil {
		return nil, fmt.Errorf("failed to decode seed file %s: %w", path, err)
	}

	for i := range docs {
		if err := docs[i].Validate(); err != nil {
			return nil, fmt.Errorf("seed document %d (%s): %w", i, docs[i].Source, err)
		}
	}

	return docs, nil
}
