package eval

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// WriteYAML encodes the report as YAML
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return enc.Close()
}

// SaveYAML writes the report to path
func (r *Report) SaveYAML(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	defer f.Close()

	if err := r.WriteYAML(f); err != nil {
		return err
	}
	return f.Close()
}
