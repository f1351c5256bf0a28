// Package ingest reads crawl seeds from CSV input.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/JakeFAU/lead-gen-crawler/internal/crawler"
)

// Seed is one crawl target from a seeds file.
type Seed struct {
	URL string
	// Rendered asks for the headless strategy on the first attempt.
	Rendered bool
}

// ReadSeeds parses seeds from r. The format is CSV with columns
// url[,rendered]; an optional header row, blank lines and # comments are all
// skipped. Invalid rows fail with their line number. Duplicate URLs (after
// normalization) keep the first occurrence.
func ReadSeeds(r io.Reader) ([]Seed, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	var (
		seeds []Seed
		seen  = make(map[string]struct{})
		first = true
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read seeds: %w", err)
		}
		line, _ := reader.FieldPos(0)

		rawURL := strings.TrimSpace(record[0])
		if first {
			first = false
			if strings.EqualFold(rawURL, "url") {
				continue
			}
		}
		if rawURL == "" {
			continue
		}

		target, err := crawler.ParseTarget(rawURL)
		if err != nil {
			return nil, fmt.Errorf("seed line %d: %w", line, err)
		}
		seed := Seed{URL: target.String()}
		if len(record) > 1 {
			rendered, err := parseRendered(record[1])
			if err != nil {
				return nil, fmt.Errorf("seed line %d: %w", line, err)
			}
			seed.Rendered = rendered
		}

		key, err := crawler.NormalizeURL(seed.URL)
		if err != nil {
			key = seed.URL
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

// ReadSeedsFile reads seeds from the file at path.
func ReadSeedsFile(path string) ([]Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seeds file: %w", err)
	}
	defer f.Close()

	seeds, err := ReadSeeds(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seeds, nil
}

func parseRendered(field string) (bool, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return false, nil
	}
	switch strings.ToLower(field) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	rendered, err := strconv.ParseBool(field)
	if err != nil {
		return false, fmt.Errorf("invalid rendered flag %q", field)
	}
	return rendered, nil
}
