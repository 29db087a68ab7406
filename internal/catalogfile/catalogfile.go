// Package catalogfile reads the intervention catalog from its YAML source of
// truth. The file is the whole catalog: entries it omits are disabled on sync.
//
//	version: 1
//	entries:
//	  - key: stress_high_card
//	    metric: stress
//	    level: high
//	    surface: card
//	    title: Take a breath
//	    body: Try a two minute box-breathing exercise.
//	    enabled: true   # optional, defaults to true
package catalogfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/meigsy/shift-sub001/internal/domain/model"
)

// Version is the only supported file version.
const Version = 1

// ErrInvalid reports a structurally invalid catalog file.
var ErrInvalid = errors.New("invalid catalog file")

type file struct {
	Version int     `yaml:"version"`
	Entries []entry `yaml:"entries"`
}

type entry struct {
	Key     string `yaml:"key"`
	Metric  string `yaml:"metric"`
	Level   string `yaml:"level"`
	Surface string `yaml:"surface"`
	Title   string `yaml:"title"`
	Body    string `yaml:"body"`
	Enabled *bool  `yaml:"enabled"`
}

// Load reads and validates the catalog file at path.
func Load(path string) ([]model.CatalogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return entries, nil
}

// Parse decodes a catalog document. Unknown fields, duplicate keys and
// unknown levels are rejected.
func Parse(r io.Reader) ([]model.CatalogEntry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc file
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d (expected %d)", ErrInvalid, doc.Version, Version)
	}

	out := make([]model.CatalogEntry, 0, len(doc.Entries))
	seen := make(map[string]struct{}, len(doc.Entries))
	for i, e := range doc.Entries {
		ce, err := e.toModel()
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", ErrInvalid, i, err)
		}
		if _, dup := seen[ce.Key]; dup {
			return nil, fmt.Errorf("%w: entry %d: duplicate key %q", ErrInvalid, i, ce.Key)
		}
		seen[ce.Key] = struct{}{}
		out = append(out, ce)
	}
	return out, nil
}

func (e entry) toModel() (model.CatalogEntry, error) {
	key := strings.TrimSpace(e.Key)
	metric := strings.TrimSpace(e.Metric)
	surface := strings.TrimSpace(e.Surface)
	switch {
	case key == "":
		return model.CatalogEntry{}, errors.New("missing key")
	case metric == "":
		return model.CatalogEntry{}, fmt.Errorf("%s: missing metric", key)
	case surface == "":
		return model.CatalogEntry{}, fmt.Errorf("%s: missing surface", key)
	}
	level, err := model.ParseLevel(e.Level)
	if err != nil {
		return model.CatalogEntry{}, fmt.Errorf("%s: %w", key, err)
	}
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return model.CatalogEntry{
		Key:     key,
		Metric:  metric,
		Level:   level,
		Surface: surface,
		Title:   e.Title,
		Body:    e.Body,
		Enabled: enabled,
	}, nil
}

// Write encodes entries as a catalog document.
func Write(w io.Writer, entries []model.CatalogEntry) error {
	doc := file{Version: Version, Entries: make([]entry, 0, len(entries))}
	for _, ce := range entries {
		enabled := ce.Enabled
		doc.Entries = append(doc.Entries, entry{
			Key:     ce.Key,
			Metric:  ce.Metric,
			Level:   string(ce.Level),
			Surface: ce.Surface,
			Title:   ce.Title,
			Body:    ce.Body,
			Enabled: &enabled,
		})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
