package classifier

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

// Artifact is what the trainer persists and the server loads at startup.
type Artifact struct {
	Model      Model
	Scaler     *StandardScaler
	Accuracy   float64
	CVAccuracy float64
	Poses      []string
	PoseCount  int
	Algorithm  string
	TrainedAt  time.Time
	// Bare artifacts are written as the model alone, without scaler or metadata.
	Bare bool
}

type artifactFile struct {
	Model      json.RawMessage `json:"model"`
	Scaler     *StandardScaler `json:"scaler,omitempty"`
	Accuracy   float64         `json:"accuracy"`
	CVAccuracy float64         `json:"cv_accuracy,omitempty"`
	Poses      []string        `json:"poses"`
	PoseCount  int             `json:"pose_count"`
	Algorithm  string          `json:"algorithm"`
	TrainedAt  time.Time       `json:"trained_at"`
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var ErrInvalidArtifact = errors.New("invalid model artifact")

// Encode writes the artifact as JSON, zstd compressed when compress is true.
func Encode(w io.Writer, a *Artifact, compress bool) error {
	if a == nil || a.Model == nil {
		return fmt.Errorf("%w: no model", ErrInvalidArtifact)
	}
	model, err := MarshalModel(a.Model)
	if err != nil {
		return err
	}
	body := model
	if !a.Bare {
		body, err = json.Marshal(artifactFile{
			Model:      model,
			Scaler:     a.Scaler,
			Accuracy:   a.Accuracy,
			CVAccuracy: a.CVAccuracy,
			Poses:      a.Poses,
			PoseCount:  a.PoseCount,
			Algorithm:  a.Algorithm,
			TrainedAt:  a.TrainedAt,
		})
		if err != nil {
			return err
		}
	}
	if !compress {
		_, err = w.Write(body)
		return err
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	if _, err := enc.Write(body); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// Decode reads either a bare model or a wrapped artifact, compressed or not.
func Decode(r io.Reader) (*Artifact, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
		}
	}

	var probe struct {
		Model json.RawMessage `json:"model"`
		Kind  string          `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	switch {
	case len(probe.Model) > 0:
		var file artifactFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
		}
		m, err := UnmarshalModel(file.Model)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
		}
		a := &Artifact{
			Model:      m,
			Scaler:     file.Scaler,
			Accuracy:   file.Accuracy,
			CVAccuracy: file.CVAccuracy,
			Poses:      file.Poses,
			PoseCount:  file.PoseCount,
			Algorithm:  file.Algorithm,
			TrainedAt:  file.TrainedAt,
		}
		if a.Scaler != nil && len(a.Scaler.Mean) != m.NumFeatures() {
			return nil, fmt.Errorf("%w: scaler has %d features, model %d", ErrInvalidArtifact, len(a.Scaler.Mean), m.NumFeatures())
		}
		if len(a.Poses) == 0 {
			a.Poses = m.Classes()
		}
		if a.PoseCount == 0 {
			a.PoseCount = len(a.Poses)
		}
		if a.Algorithm == "" {
			a.Algorithm = m.Kind()
		}
		return a, nil
	case probe.Kind != "":
		m, err := UnmarshalModel(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
		}
		return &Artifact{
			Model:     m,
			Poses:     m.Classes(),
			PoseCount: len(m.Classes()),
			Algorithm: m.Kind(),
			Bare:      true,
		}, nil
	default:
		return nil, fmt.Errorf("%w: neither a model nor an artifact", ErrInvalidArtifact)
	}
}

// Save writes the artifact to path through a temp file and rename. Files ending
// in .zst are compressed.
func Save(path string, a *Artifact) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := Encode(tmp, a, filepath.Ext(path) == ".zst"); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func Load(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	a, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}
