package eval

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".heic": "image/heic",
	".heif": "image/heif",
	".pdf":  "application/pdf",
}

// Sample is a receipt image with its transcribed text
type Sample struct {
	Name        string
	ImagePath   string
	ContentType string
	Truth       string
}

// LoadSamples reads every image in dir that has a .txt transcription
// beside it, e.g. walmart.jpg + walmart.txt. Images without one are skipped.
func LoadSamples(dir string) ([]Sample, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading sample directory: %w", err)
	}

	var samples []Sample
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		contentType, ok := contentTypes[ext]
		if !ok {
			continue
		}

		base := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		truth, err := os.ReadFile(filepath.Join(dir, base+".txt"))
		if os.IsNotExist(err) {
			slog.Debug("Skipping sample without transcription", "image", entry.Name())
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading transcription for %s: %w", entry.Name(), err)
		}

		samples = append(samples, Sample{
			Name:        base,
			ImagePath:   filepath.Join(dir, entry.Name()),
			ContentType: contentType,
			Truth:       string(truth),
		})
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Name < samples[j].Name })
	slog.Debug("Loaded samples", "dir", dir, "count", len(samples))
	return samples, nil
}
