package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	iface "YogaPoseServer/interface"
)

const MsgNoPose = "No pose detected in image"

// Observer receives per request outcomes. monitor.Metrics implements it.
type Observer interface {
	ObserveDetection(result string, elapsed time.Duration)
	ObserveClassification(label string)
}

type nopObserver struct{}

func (nopObserver) ObserveDetection(string, time.Duration) {}
func (nopObserver) ObserveClassification(string) {}

const (
	ResultPose    = "pose"
	ResultNoPose  = "no_pose"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

type Options struct {
	Estimator iface.PoseEstimator
	Decoder   iface.ImageDecoder
	// Classifier may be nil, the service then only detects landmarks.
	Classifier     iface.Classifier
	ClassifierInfo iface.ClassifierInfo
	ModelPath      string
	Observer       Observer
	Logger         *zap.Logger
}

// Service is the request handling context. It is built once at startup and
// never mutated afterwards, so handlers can share it freely.
type Service struct {
	estimator  iface.PoseEstimator
	decoder    iface.ImageDecoder
	classifier iface.Classifier
	info       iface.ClassifierInfo
	modelPath  string
	observer   Observer
	log        *zap.Logger
}

func New(opts Options) (*Service, error) {
	if opts.Estimator == nil {
		return nil, errors.New("service: pose estimator is required")
	}
	if opts.Decoder == nil {
		return nil, errors.New("service: image decoder is required")
	}
	s := &Service{
		estimator:  opts.Estimator,
		decoder:    opts.Decoder,
		classifier: opts.Classifier,
		info:       opts.ClassifierInfo,
		modelPath:  opts.ModelPath,
		observer:   opts.Observer,
		log:        opts.Logger,
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s, nil
}

func (s *Service) ClassifierLoaded() bool {
	return s.classifier != nil
}

func (s *Service) ClassifierInfo() iface.ClassifierInfo {
	return s.info
}

func (s *Service) ModelPath() string {
	return s.modelPath
}

// Result is the outcome of one detect-pose request.
type Result struct {
	PoseFound      bool
	Keypoints      []float64
	Visibility     []float64
	Landmarks      []iface.Landmark
	Classification Classification
	ImageShape     []int
}

// Detect decodes an uploaded image, extracts landmarks and classifies them.
func (s *Service) Detect(ctx context.Context, data []byte) (*Result, error) {
	start := time.Now()
	res, err := s.detect(ctx, data)
	outcome := ResultPose
	switch {
	case err != nil && StatusOf(err) < 500:
		outcome = ResultInvalid
	case err != nil:
		outcome = ResultError
	case !res.PoseFound:
		outcome = ResultNoPose
	}
	s.observer.ObserveDetection(outcome, time.Since(start))
	return res, err
}

func (s *Service) detect(ctx context.Context, data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	s.log.Debug("Received image", zap.Int("bytes", len(data)))

	img, err := s.decoder.Decode(data)
	if err != nil {
		s.log.Info("Image decode failed", zap.Error(err))
		return nil, ErrDecodeImage
	}
	s.log.Debug("Image decoded", zap.Ints("shape", img.Shape()))

	set, err := s.estimator.Estimate(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("pose estimation failed: %w", err)
	}
	if set == nil {
		return &Result{ImageShape: img.Shape()}, nil
	}

	keypoints, visibility := set.Flatten()
	res := &Result{
		PoseFound:  true,
		Keypoints:  keypoints,
		Visibility: visibility,
		Landmarks:  append([]iface.Landmark{}, set.Landmarks...),
		ImageShape: img.Shape(),
	}
	if s.classifier != nil {
		c, err := Classify(s.classifier, keypoints, visibility)
		if err != nil {
			s.log.Warn("Error in pose classification", zap.Error(err))
		}
		res.Classification = c
		if c.Label != nil {
			s.observer.ObserveClassification(*c.Label)
		}
	}
	s.log.Info("Pose detected",
		zap.String("pose", res.Classification.LabelOrEmpty()),
		zap.Float64("confidence", res.Classification.Confidence),
	)
	return res, nil
}

func (s *Service) Close() error {
	return s.estimator.Close()
}
