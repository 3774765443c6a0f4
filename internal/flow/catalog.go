package flow

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BTreeMap/BookPipe/internal/models"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Questions []models.Question `yaml:"questions"`
}

// LoadCatalogFile reads a YAML question catalog of the form
//
//	questions:
//	  - key: genre
//	    text: What genre are you interested in?
func LoadCatalogFile(path string) ([]models.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}
	if err := models.ValidateCatalog(cf.Questions); err != nil {
		return nil, &ConfigurationError{Reason: "invalid catalog file " + path, Err: err}
	}
	slog.Info("Question catalog loaded", "file", path, "questions", len(cf.Questions))
	return cf.Questions, nil
}
