package trainer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/cheggaaa/pb/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"YogaPoseServer/blobstore"
	"YogaPoseServer/classifier"
	"YogaPoseServer/logger"
)

// Uploader stores encoded artifacts under s3:// locations. blobstore.Router implements it.
type Uploader interface {
	Put(ctx context.Context, name string, data []byte) error
}

type Options struct {
	Strategy   Strategy
	DataPath   string
	OutputPath string
	// TestSize is the held-out fraction, 0.2 when zero.
	TestSize float64
	Seed     int64
	Folds    int
	// Jobs caps parallel tree fitting per forest; 0 uses every CPU.
	Jobs     int
	Progress bool
	// Out receives the human readable training summary.
	Out      io.Writer
	Uploader Uploader
}

func (o *Options) setDefaults() {
	if o.Strategy == "" {
		o.Strategy = QuickBoost
	}
	if o.OutputPath == "" {
		o.OutputPath = o.Strategy.DefaultOutput()
	}
	if o.TestSize == 0 {
		o.TestSize = 0.2
	}
	if o.Folds == 0 {
		o.Folds = 5
	}
	if o.Out == nil {
		o.Out = io.Discard
	}
}

type Score struct {
	Name      string
	Algorithm string
	Accuracy  float64
	CV        []float64
	CVMean    float64
	CVStd     float64

	model classifier.Model
}

type Importance struct {
	Feature int
	Column  string
	Value   float64
}

type SamplePrediction struct {
	Truth     string
	Predicted string
}

type Result struct {
	Strategy    Strategy
	Analysis    Analysis
	Poses       []LabelCount
	Scores      []Score
	Best        Score
	Report      Report
	Importances []Importance
	Samples     []SamplePrediction
	Artifact    *classifier.Artifact
	OutputPath  string
}

// Run executes one training strategy end to end: load, filter, scale, split,
// fit and compare candidates, then persist the best model. Any error aborts the
// run before an artifact is written.
func Run(ctx context.Context, opts Options) (*Result, error) {
	opts.setDefaults()
	p, err := planFor(opts.Strategy, opts.Seed, opts.Jobs)
	if err != nil {
		return nil, err
	}
	log := logger.Log().With(zap.String("strategy", string(opts.Strategy)))
	out := opts.Out

	data, err := LoadCSV(opts.DataPath)
	if err != nil {
		return nil, err
	}
	log.Info("Loaded dataset", zap.Int("samples", data.Len()), zap.Int("features", data.NumFeatures()))
	fmt.Fprintf(out, "Loaded %d samples with %d features\n", data.Len(), data.NumFeatures())
	if data.Len() < 10 {
		log.Warn("Very few samples found, classification quality will be poor")
	}

	res := &Result{Strategy: opts.Strategy, Analysis: Analyze(data)}
	res.Analysis.Write(out)

	filtered, poses := data, labelsOf(data.Counts())
	switch {
	case p.minSamples > 0:
		filtered, poses = data.MinSamples(p.minSamples)
	case p.topN > 0:
		filtered, poses = data.TopLabels(p.topN)
	}
	if filtered.Len() == 0 {
		return nil, errors.New("no samples left after filtering labels")
	}
	counts := filtered.Counts()
	res.Poses = counts
	fmt.Fprintf(out, "\nUsing %d samples from %d poses\n", filtered.Len(), len(poses))

	var scaler *classifier.StandardScaler
	if p.scale {
		scaler = classifier.NewStandardScaler()
		if err := scaler.Fit(filtered.Features); err != nil {
			return nil, err
		}
		scaled, err := scaler.TransformAll(filtered.Features)
		if err != nil {
			return nil, err
		}
		filtered = &Dataset{Header: filtered.Header, Labels: filtered.Labels, Features: scaled}
	}

	train, test, err := StratifiedSplit(filtered, opts.TestSize, opts.Seed)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Training samples: %d\nTesting samples: %d\n", train.Len(), test.Len())

	steps := len(p.candidates)
	if p.cv {
		steps += len(p.candidates) * opts.Folds
	}
	step, finish := progress(opts.Progress, steps)
	res.Scores, err = compete(ctx, p, train, test, opts.Folds, step)
	finish()
	if err != nil {
		return nil, err
	}
	for _, s := range res.Scores {
		if p.cv {
			fmt.Fprintf(out, "%s cross-validation accuracy: %.3f (+/- %.3f)\n", s.Name, s.CVMean, s.CVStd*2)
		}
		fmt.Fprintf(out, "%s test accuracy: %.3f\n", s.Name, s.Accuracy)
	}

	best := res.Scores[0]
	for _, s := range res.Scores[1:] {
		if s.Accuracy > best.Accuracy {
			best = s
		}
	}
	res.Best = best
	fmt.Fprintf(out, "\nBest Model: %s (%.3f)\n", best.Name, best.Accuracy)

	pred, err := classifier.PredictAll(best.model, test.Features)
	if err != nil {
		return nil, err
	}
	res.Report = Evaluate(test.Labels, pred)
	fmt.Fprintln(out, "\nClassification Report:")
	res.Report.Write(out)

	if fi, ok := best.model.(classifier.FeatureImportancer); ok {
		res.Importances = topImportances(fi.FeatureImportances(), data.Header, 10)
		fmt.Fprintln(out, "\nTop 10 most important keypoints:")
		for i, imp := range res.Importances {
			fmt.Fprintf(out, "  %d. Keypoint %d (%s): %.4f\n", i+1, imp.Feature, imp.Column, imp.Value)
		}
	}

	a := &classifier.Artifact{
		Model:      best.model,
		Scaler:     scaler,
		Accuracy:   best.Accuracy,
		CVAccuracy: best.CVMean,
		Poses:      poses,
		PoseCount:  len(poses),
		Algorithm:  best.Algorithm,
		TrainedAt:  time.Now().UTC(),
		Bare:       p.bare,
	}
	if err := persist(ctx, opts, a); err != nil {
		return nil, fmt.Errorf("failed to save model to %s: %w", opts.OutputPath, err)
	}
	res.Artifact, res.OutputPath = a, opts.OutputPath
	log.Info("Model saved",
		zap.String("path", opts.OutputPath),
		zap.String("algorithm", a.Algorithm),
		zap.Float64("accuracy", a.Accuracy),
		zap.Int("poses", a.PoseCount))
	fmt.Fprintf(out, "\nModel saved to %s with %.3f accuracy\n", opts.OutputPath, a.Accuracy)

	if opts.Strategy == Basic {
		if res.Samples, err = sampleCheck(opts.OutputPath, a, data, 5); err != nil {
			return nil, err
		}
		fmt.Fprintln(out, "\nSample Predictions:")
		for i, s := range res.Samples {
			mark := "x"
			if s.Truth == s.Predicted {
				mark = "ok"
			}
			fmt.Fprintf(out, "  %d. True: %s | Predicted: %s %s\n", i+1, s.Truth, s.Predicted, mark)
		}
	}
	if opts.Strategy == QuickBoost {
		fmt.Fprintln(out, "\nTop 10 poses in the model:")
		for i, c := range counts {
			if i == 10 {
				break
			}
			fmt.Fprintf(out, "  %d. %s: %d samples\n", i+1, c.Label, c.Count)
		}
	}
	return res, nil
}

// compete fits every candidate in parallel, with optional k-fold CV on the
// training set first, and scores each on the held-out set.
func compete(ctx context.Context, p plan, train, test *Dataset, folds int, step func()) ([]Score, error) {
	scores := make([]Score, len(p.candidates))
	g, ctx := errgroup.WithContext(ctx)
	for i, c := range p.candidates {
		g.Go(func() error {
			s := Score{Name: c.Name}
			if p.cv {
				cv, err := CrossValidate(ctx, c.New, train, folds, step)
				if err != nil {
					return fmt.Errorf("%s: %w", c.Name, err)
				}
				s.CV = cv
				s.CVMean, s.CVStd = MeanStd(cv)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			m := c.New()
			if err := m.Fit(train.Features, train.Labels); err != nil {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
			pred, err := classifier.PredictAll(m, test.Features)
			if err != nil {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
			s.Accuracy = Accuracy(test.Labels, pred)
			s.Algorithm = m.Kind()
			s.model = m
			scores[i] = s
			step()
			logger.Log().Info("Candidate trained",
				zap.String("model", c.Name),
				zap.Float64("accuracy", s.Accuracy),
				zap.Float64("cv_mean", s.CVMean))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

func persist(ctx context.Context, opts Options, a *classifier.Artifact) error {
	if !blobstore.IsRemote(opts.OutputPath) {
		return classifier.Save(opts.OutputPath, a)
	}
	if opts.Uploader == nil {
		return errors.New("no object store configured for remote output")
	}
	var buf bytes.Buffer
	if err := classifier.Encode(&buf, a, filepath.Ext(opts.OutputPath) == ".zst"); err != nil {
		return err
	}
	return opts.Uploader.Put(ctx, opts.OutputPath, buf.Bytes())
}

// sampleCheck reloads the written artifact, when local, and predicts the first
// n rows of the raw dataset with it.
func sampleCheck(path string, a *classifier.Artifact, data *Dataset, n int) ([]SamplePrediction, error) {
	if !blobstore.IsRemote(path) {
		loaded, err := classifier.Load(path)
		if err != nil {
			return nil, err
		}
		a = loaded
	}
	clf, err := classifier.NewPoseClassifier(a)
	if err != nil {
		return nil, err
	}
	n = min(n, data.Len())
	out := make([]SamplePrediction, n)
	for i := 0; i < n; i++ {
		label, err := clf.Predict(data.Features[i])
		if err != nil {
			return nil, err
		}
		out[i] = SamplePrediction{Truth: data.Labels[i], Predicted: label}
	}
	return out, nil
}

func topImportances(values []float64, header []string, n int) []Importance {
	out := make([]Importance, len(values))
	for i, v := range values {
		col := ""
		if i+1 < len(header) {
			col = header[i+1]
		}
		out[i] = Importance{Feature: i, Column: col, Value: v}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Value > out[b].Value })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func labelsOf(counts []LabelCount) []string {
	out := make([]string, len(counts))
	for i, c := range counts {
		out[i] = c.Label
	}
	return out
}

func progress(enabled bool, total int) (step func(), finish func()) {
	if !enabled || total == 0 {
		return func() {}, func() {}
	}
	tmpl := `{{ string . "prefix" }} {{counters . }} {{bar . }} {{percent . }} {{etime . "%s elapsed"}}`
	bar := pb.ProgressBarTemplate(tmpl).Start(total)
	bar.Set("prefix", "training")
	return func() { bar.Increment() }, func() { bar.Finish() }
}
