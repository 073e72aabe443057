// pairs.go - Text-Bild-Paare: Aufbau aus Quellverzeichnissen und Pair-Cache
//
// Dieses Modul enthaelt:
// - Pair: ein Text-Bild-Paar (Caption + Bildpfad)
// - CreatePairs: Scan der Quellverzeichnisse
// - SavePairs/LoadPairs: JSON Pair-Cache
// - EnsurePairs: Cache-Datei anlegen falls nicht vorhanden, dann laden
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Pair is one raw training sample: a caption and the path of the image it
// describes. Pixel data is loaded lazily during cache build and dropped once
// the latents are encoded.
type Pair struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// CreatePairs walks the source directories and pairs every image with its
// caption. A sidecar file with the same stem and a .txt extension wins;
// otherwise the file stem with underscores replaced by spaces is used.
// Pairs are returned sorted by image path so dataset order is stable.
func CreatePairs(sources []string) ([]Pair, error) {
	var pairs []Pair
	for _, source := range sources {
		err := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !imageExts[strings.ToLower(filepath.Ext(path))] {
				return nil
			}

			stem := strings.TrimSuffix(path, filepath.Ext(path))
			text := strings.ReplaceAll(filepath.Base(stem), "_", " ")
			if caption, err := os.ReadFile(stem + ".txt"); err == nil {
				text = strings.TrimSpace(string(caption))
			}

			pairs = append(pairs, Pair{Text: text, Image: path})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning source %q: %w", source, err)
		}
	}

	slices.SortFunc(pairs, func(a, b Pair) int {
		return strings.Compare(a.Image, b.Image)
	})

	return pairs, nil
}

// SavePairs writes the pair cache as JSON.
func SavePairs(pairs []Pair, path string) error {
	data, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadPairs reads a pair cache written by SavePairs, or a legacy pickle file
// if the path ends in .pkl.
func LoadPairs(path string) ([]Pair, error) {
	if strings.HasSuffix(path, ".pkl") {
		return ImportPicklePairs(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pairs []Pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("parsing pair cache %q: %w", path, err)
	}
	return pairs, nil
}

// EnsurePairs loads the pair cache at path, building it from the source
// directories first if the file does not exist. A missing pair cache is not
// an error; unreadable sources are.
func EnsurePairs(path string, sources []string) ([]Pair, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		pairs, err := CreatePairs(sources)
		if err != nil {
			return nil, err
		}
		if err := SavePairs(pairs, path); err != nil {
			return nil, err
		}
		slog.Info("built pair cache", "path", path, "pairs", len(pairs))
	}

	pairs, err := LoadPairs(path)
	if err != nil {
		return nil, err
	}
	slog.Info("loaded text-image pairs", "path", path, "pairs", len(pairs))
	return pairs, nil
}
