package extractor

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	iface "YogaPoseServer/interface"
	"YogaPoseServer/logger"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// Item is one labeled image of the dataset tree.
type Item struct {
	Label string
	Path  string
}

// Header is the training CSV header: label, then x, y, z, v per landmark.
func Header() []string {
	h := make([]string, 0, 1+4*iface.NumLandmarks)
	h = append(h, "label")
	for i := 0; i < iface.NumLandmarks; i++ {
		n := strconv.Itoa(i)
		h = append(h, "x"+n, "y"+n, "z"+n, "v"+n)
	}
	return h
}

// Walk lists <dir>/<label>/<image> entries with a png, jpg or jpeg extension,
// sorted by label and file name.
func Walk(dir string) ([]Item, error) {
	labels, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset dir: %w", err)
	}
	var items []Item
	for _, l := range labels {
		if !l.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, l.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() || !imageExts[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			items = append(items, Item{Label: l.Name(), Path: filepath.Join(dir, l.Name(), f.Name())})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Label != items[j].Label {
			return items[i].Label < items[j].Label
		}
		return items[i].Path < items[j].Path
	})
	return items, nil
}

type Options struct {
	DatasetDir string
	OutputPath string
	Workers    int
	Progress   bool
	// Read decodes an image file. engine.ReadImageFile in production.
	Read      func(path string) (iface.ImageData, error)
	Estimator iface.PoseEstimator
}

type Stats struct {
	Images     int
	Rows       int
	Unreadable int
	NoPose     int
	Failed     int
	Labels     int
}

type outcome int

const (
	gotRow outcome = iota
	unreadable
	noPose
	failed
)

type result struct {
	row []string
	out outcome
}

// Run extracts one CSV row per image with a detected pose. Images that cannot
// be read, have no pose, or make the estimator fail are logged and skipped.
// The CSV is written through a temp file, so a failed run leaves no output.
func Run(ctx context.Context, opts Options) (Stats, error) {
	if opts.Read == nil || opts.Estimator == nil {
		return Stats{}, errors.New("extractor needs an image reader and an estimator")
	}
	workers := max(opts.Workers, 1)
	items, err := Walk(opts.DatasetDir)
	if err != nil {
		return Stats{}, err
	}
	log := logger.Log()
	log.Info("Extracting keypoints", zap.String("dataset", opts.DatasetDir), zap.Int("images", len(items)), zap.Int("workers", workers))

	var bar *pb.ProgressBar
	if opts.Progress {
		bar = pb.StartNew(len(items))
	}

	results := make([]result, len(items))
	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range items {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				results[i] = process(gctx, opts, items[i], log)
				if bar != nil {
					bar.Increment()
				}
			}
			return gctx.Err()
		})
	}
	err = g.Wait()
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return Stats{}, err
	}

	st := Stats{Images: len(items)}
	seen := map[string]bool{}
	rows := make([][]string, 0, len(items))
	for i, r := range results {
		switch r.out {
		case gotRow:
			rows = append(rows, r.row)
			if !seen[items[i].Label] {
				seen[items[i].Label] = true
				st.Labels++
			}
		case unreadable:
			st.Unreadable++
		case noPose:
			st.NoPose++
		case failed:
			st.Failed++
		}
	}
	st.Rows = len(rows)
	if err := writeCSV(opts.OutputPath, rows); err != nil {
		return Stats{}, err
	}
	log.Info("Keypoints extraction complete",
		zap.String("output", opts.OutputPath),
		zap.Int("rows", st.Rows),
		zap.Int("unreadable", st.Unreadable),
		zap.Int("no_pose", st.NoPose),
		zap.Int("failed", st.Failed))
	return st, nil
}

func process(ctx context.Context, opts Options, it Item, log *zap.Logger) (r result) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("Error processing image", zap.String("path", it.Path), zap.Any("panic", p))
			r = result{out: failed}
		}
	}()
	img, err := opts.Read(it.Path)
	if err != nil {
		log.Warn("Could not read image", zap.String("path", it.Path), zap.Error(err))
		return result{out: unreadable}
	}
	set, err := opts.Estimator.Estimate(ctx, img)
	if err != nil {
		log.Warn("Error processing image", zap.String("path", it.Path), zap.Error(err))
		return result{out: failed}
	}
	if set == nil || len(set.Landmarks) == 0 {
		log.Info("No pose detected", zap.String("path", it.Path))
		return result{out: noPose}
	}
	return result{row: Row(it.Label, set), out: gotRow}
}

// Row formats one CSV record. Landmarks beyond NumLandmarks are dropped and
// missing ones are written as zeros.
func Row(label string, set *iface.LandmarkSet) []string {
	row := make([]string, 0, 1+4*iface.NumLandmarks)
	row = append(row, label)
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for i := 0; i < iface.NumLandmarks; i++ {
		var lm iface.Landmark
		if i < len(set.Landmarks) {
			lm = set.Landmarks[i]
		}
		row = append(row, f(lm.X), f(lm.Y), f(lm.Z), f(lm.Visibility))
	}
	return row
}

func writeCSV(path string, rows [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keypoints-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	w := csv.NewWriter(tmp)
	if err := w.Write(Header()); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
