package classifier

import (
	"bytes"
	"context"
	"fmt"

	iface "YogaPoseServer/interface"
)

// PoseClassifier adapts a loaded artifact to iface.Classifier. It is read-only
// after construction and safe for concurrent use.
type PoseClassifier struct {
	artifact *Artifact
}

func NewPoseClassifier(a *Artifact) (*PoseClassifier, error) {
	if a == nil || a.Model == nil {
		return nil, fmt.Errorf("%w: no model", ErrInvalidArtifact)
	}
	return &PoseClassifier{artifact: a}, nil
}

// Open loads the artifact at path through the blob getter (local path or s3:// URL).
func Open(ctx context.Context, get func(ctx context.Context, path string) ([]byte, error), path string) (*PoseClassifier, error) {
	data, err := get(ctx, path)
	if err != nil {
		return nil, err
	}
	a, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewPoseClassifier(a)
}

func (p *PoseClassifier) Predict(features []float64) (string, error) {
	x := features
	if p.artifact.Scaler != nil {
		var err error
		if x, err = p.artifact.Scaler.Transform(features); err != nil {
			return "", err
		}
	}
	return Predict(p.artifact.Model, x)
}

func (p *PoseClassifier) Labels() []string {
	return p.artifact.Model.Classes()
}

func (p *PoseClassifier) Info() iface.ClassifierInfo {
	return iface.ClassifierInfo{
		Algorithm: p.artifact.Algorithm,
		Accuracy:  p.artifact.Accuracy,
		PoseCount: p.artifact.PoseCount,
		HasScaler: p.artifact.Scaler != nil,
	}
}

func (p *PoseClassifier) Artifact() *Artifact {
	return p.artifact
}
