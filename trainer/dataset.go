package trainer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
)

var ErrDatasetNotFound = errors.New("dataset not found")

// Dataset is an in-memory training table: one label and one feature row per sample.
type Dataset struct {
	Header   []string
	Labels   []string
	Features [][]float64
}

func (d *Dataset) Len() int {
	return len(d.Labels)
}

func (d *Dataset) NumFeatures() int {
	if len(d.Features) == 0 {
		return max(len(d.Header)-1, 0)
	}
	return len(d.Features[0])
}

// LoadCSV reads a dataset whose first column is the label and whose remaining
// columns are numeric features.
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s (run the extractor first to produce it)", ErrDatasetNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

func ReadCSV(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty dataset: missing header")
	}
	if err != nil {
		return nil, err
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("header has %d columns, want a label and at least one feature", len(header))
	}
	d := &Dataset{Header: append([]string(nil), header...)}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make([]float64, len(rec)-1)
		for i, s := range rec[1:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %q: %w", line, d.Header[i+1], err)
			}
			row[i] = v
		}
		d.Labels = append(d.Labels, rec[0])
		d.Features = append(d.Features, row)
	}
	return d, nil
}

// Subset returns the samples at idx, sharing feature rows with d.
func (d *Dataset) Subset(idx []int) *Dataset {
	out := &Dataset{
		Header:   d.Header,
		Labels:   make([]string, len(idx)),
		Features: make([][]float64, len(idx)),
	}
	for i, j := range idx {
		out.Labels[i] = d.Labels[j]
		out.Features[i] = d.Features[j]
	}
	return out
}

// Filter keeps the samples whose label is in keep.
func (d *Dataset) Filter(keep []string) *Dataset {
	set := make(map[string]struct{}, len(keep))
	for _, l := range keep {
		set[l] = struct{}{}
	}
	var idx []int
	for i, l := range d.Labels {
		if _, ok := set[l]; ok {
			idx = append(idx, i)
		}
	}
	return d.Subset(idx)
}

type LabelCount struct {
	Label string
	Count int
}

// Counts returns the label frequencies, most frequent first. Ties keep the
// order in which labels first appear.
func (d *Dataset) Counts() []LabelCount {
	pos := map[string]int{}
	var out []LabelCount
	for _, l := range d.Labels {
		i, ok := pos[l]
		if !ok {
			i = len(out)
			pos[l] = i
			out = append(out, LabelCount{Label: l})
		}
		out[i].Count++
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Count > out[b].Count })
	return out
}

// MinSamples keeps labels with at least n samples, returning the kept labels
// in frequency order.
func (d *Dataset) MinSamples(n int) (*Dataset, []string) {
	var keep []string
	for _, c := range d.Counts() {
		if c.Count >= n {
			keep = append(keep, c.Label)
		}
	}
	return d.Filter(keep), keep
}

// TopLabels keeps the n most frequent labels.
func (d *Dataset) TopLabels(n int) (*Dataset, []string) {
	counts := d.Counts()
	if len(counts) > n {
		counts = counts[:n]
	}
	keep := make([]string, len(counts))
	for i, c := range counts {
		keep[i] = c.Label
	}
	return d.Filter(keep), keep
}

// Analysis summarizes the label distribution of a dataset.
type Analysis struct {
	Total   int
	Poses   int
	Average float64
	// Low holds poses with fewer than 10 samples.
	Low []LabelCount
	// High holds poses with more than 50 samples.
	High []LabelCount
}

func Analyze(d *Dataset) Analysis {
	counts := d.Counts()
	a := Analysis{Total: d.Len(), Poses: len(counts)}
	if a.Poses > 0 {
		a.Average = float64(a.Total) / float64(a.Poses)
	}
	for _, c := range counts {
		switch {
		case c.Count < 10:
			a.Low = append(a.Low, c)
		case c.Count > 50:
			a.High = append(a.High, c)
		}
	}
	return a
}

func (a Analysis) Write(w io.Writer) {
	fmt.Fprintln(w, "=== Dataset Analysis ===")
	fmt.Fprintf(w, "Total samples: %d\n", a.Total)
	fmt.Fprintf(w, "Number of poses: %d\n", a.Poses)
	fmt.Fprintf(w, "Average samples per pose: %.1f\n", a.Average)
	fmt.Fprintf(w, "\nPoses with <10 samples (%d poses):\n", len(a.Low))
	for _, c := range a.Low {
		fmt.Fprintf(w, "  %s: %d samples\n", c.Label, c.Count)
	}
	fmt.Fprintf(w, "\nPoses with >50 samples (%d poses):\n", len(a.High))
	for i, c := range a.High {
		if i == 10 {
			break
		}
		fmt.Fprintf(w, "  %s: %d samples\n", c.Label, c.Count)
	}
}
