package training

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
)

// Label and provenance columns around the feature block.
const (
	ColImportancePos  = "importance_pos"
	ColCredibilityPos = "credibility_pos"
	ColSource         = "source"
	ColCategory       = "category"
	ColTimestamp      = "timestamp"
	ColOrigin         = "origin"
)

// Origins of a sample.
const (
	OriginInternal   = "internal"
	OriginRejection  = "rejection"
	OriginEngagement = "engagement"
)

// ErrFeatureDrift is returned when a dataset was written with a different
// feature layout than the one compiled into this binary.
var ErrFeatureDrift = errors.New("training: dataset feature columns do not match extractor")

// Sample is one dataset row.
type Sample struct {
	Features       []float64
	ImportancePos  int
	CredibilityPos int
	Source         string
	Category       string
	Timestamp      time.Time
	Origin         string
}

// SampleFrom extracts features for a labeled item.
func SampleFrom(l domain.LabeledItem) Sample {
	return Sample{
		Features:       features.Extract(l.Item),
		ImportancePos:  l.ImportancePos,
		CredibilityPos: l.CredibilityPos,
		Source:         l.Item.Source,
		Category:       features.CanonicalCategory(l.Item.Category),
		Timestamp:      l.Item.PublishedAt,
		Origin:         l.Origin,
	}
}

// Header is the fixed CSV header: labels, features, provenance.
func Header() []string {
	h := []string{ColImportancePos, ColCredibilityPos}
	h = append(h, features.Names()...)
	return append(h, ColSource, ColCategory, ColTimestamp, ColOrigin)
}

// Dataset is a loaded CSV.
type Dataset struct {
	Samples []Sample
	// Skipped counts malformed rows.
	Skipped int
}

// Matrix splits the dataset into a feature matrix and the two label vectors.
func (d Dataset) Matrix() (x [][]float64, importance, credibility []int) {
	x = make([][]float64, len(d.Samples))
	importance = make([]int, len(d.Samples))
	credibility = make([]int, len(d.Samples))
	for i, s := range d.Samples {
		x[i] = s.Features
		importance[i] = s.ImportancePos
		credibility[i] = s.CredibilityPos
	}
	return x, importance, credibility
}

// WriteDataset writes samples to path through a temporary file and rename.
func WriteDataset(path string, samples []Sample) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dataset-*.csv")
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := EncodeDataset(tmp, samples); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close dataset: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install dataset: %w", err)
	}
	return nil
}

// EncodeDataset writes the header and one row per sample.
func EncodeDataset(w io.Writer, samples []Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return fmt.Errorf("write dataset header: %w", err)
	}
	row := make([]string, 0, len(Header()))
	for _, s := range samples {
		row = row[:0]
		row = append(row, strconv.Itoa(s.ImportancePos), strconv.Itoa(s.CredibilityPos))
		for _, v := range s.Features {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		ts := ""
		if !s.Timestamp.IsZero() {
			ts = s.Timestamp.UTC().Format(time.RFC3339)
		}
		row = append(row, s.Source, s.Category, ts, s.Origin)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write dataset row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush dataset: %w", err)
	}
	return nil
}

// ReadDataset loads the CSV at path.
func ReadDataset(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return DecodeDataset(f)
}

// DecodeDataset parses a dataset. The header must match Header() exactly;
// rows that fail to parse are skipped and counted.
func DecodeDataset(r io.Reader) (Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return Dataset{}, fmt.Errorf("read dataset header: %w", err)
	}
	want := Header()
	if len(header) != len(want) {
		return Dataset{}, fmt.Errorf("%w: %d columns, want %d", ErrFeatureDrift, len(header), len(want))
	}
	for i := range want {
		if header[i] != want[i] {
			return Dataset{}, fmt.Errorf("%w: column %d is %q, want %q", ErrFeatureDrift, i, header[i], want[i])
		}
	}

	var ds Dataset
	width := features.Len()
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				ds.Skipped++
				continue
			}
			return ds, fmt.Errorf("read dataset: %w", err)
		}
		s, ok := decodeRow(rec, width)
		if !ok {
			ds.Skipped++
			continue
		}
		ds.Samples = append(ds.Samples, s)
	}
	return ds, nil
}

func decodeRow(rec []string, width int) (Sample, bool) {
	if len(rec) != width+6 {
		return Sample{}, false
	}
	imp, err1 := strconv.Atoi(rec[0])
	cred, err2 := strconv.Atoi(rec[1])
	if err1 != nil || err2 != nil || !binary(imp) || !binary(cred) {
		return Sample{}, false
	}
	s := Sample{ImportancePos: imp, CredibilityPos: cred, Features: make([]float64, width)}
	for j := 0; j < width; j++ {
		v, err := strconv.ParseFloat(rec[2+j], 64)
		if err != nil {
			return Sample{}, false
		}
		s.Features[j] = v
	}
	tail := rec[2+width:]
	s.Source, s.Category, s.Origin = tail[0], tail[1], tail[3]
	if tail[2] != "" {
		if ts, err := time.Parse(time.RFC3339, tail[2]); err == nil {
			s.Timestamp = ts
		}
	}
	return s, true
}

func binary(v int) bool { return v == 0 || v == 1 }
