package store

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// DefaultCatalog returns the built-in metric display catalog.
func DefaultCatalog() ([]MetricMetadata, error) {
	var doc struct {
		Metrics []MetricMetadata `yaml:"metrics"`
	}
	if err := yaml.Unmarshal(catalogYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse metric catalog: %w", err)
	}
	return doc.Metrics, nil
}
