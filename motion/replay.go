package motion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"motionduel/duel"
)

// Load reads a recorded session: one "x,y,z" row per sample, g-units.
// Blank lines and lines starting with '#' are skipped.
func Load(r io.Reader) ([]duel.Sample, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true

	var out []duel.Sample
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("motion: read replay: %w", err)
		}
		var v [3]float64
		for i, f := range rec {
			v[i], err = strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				line, _ := cr.FieldPos(i)
				return nil, fmt.Errorf("motion: replay line %d: %w", line, err)
			}
		}
		out = append(out, duel.Sample{X: v[0], Y: v[1], Z: v[2]})
	}
	if len(out) == 0 {
		return nil, ErrEmptyScript
	}
	return out, nil
}

// LoadFile is Load on a file path.
func LoadFile(path string) ([]duel.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
