package engine

import (
	iface "YogaPoseServer/interface"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

const (
	LayoutNHWC = "nhwc"
	LayoutNCHW = "nchw"

	// landmark network emits 5 values per point: x, y, z, visibility logit, presence logit
	defaultStride = 5
)

// OnnxOptions configures a BlazePose style landmark network loaded through OpenCV DNN.
type OnnxOptions struct {
	ModelPath              string
	InputSize              int
	Layout                 string
	InputName              string
	LandmarkOutput         string
	FlagOutput             string
	MinDetectionConfidence float32
}

func (o *OnnxOptions) setDefaults() {
	if o.InputSize <= 0 {
		o.InputSize = 256
	}
	if o.Layout == "" {
		o.Layout = LayoutNHWC
	}
	if o.LandmarkOutput == "" {
		o.LandmarkOutput = "Identity"
	}
	if o.FlagOutput == "" {
		o.FlagOutput = "Identity_1"
	}
	if o.MinDetectionConfidence <= 0 {
		o.MinDetectionConfidence = 0.5
	}
}

// OnnxEstimator runs the landmark network on the whole (letterboxed) image.
// A gocv.Net is not safe for concurrent use, Estimate serializes on mu.
type OnnxEstimator struct {
	mu    sync.Mutex
	net   gocv.Net
	opts  OnnxOptions
	State int
}

func NewOnnxEstimator(opts OnnxOptions) (*OnnxEstimator, error) {
	opts.setDefaults()
	if opts.ModelPath == "" {
		return nil, errors.New("onnx estimator: model path cannot be empty")
	}
	if opts.Layout != LayoutNHWC && opts.Layout != LayoutNCHW {
		return nil, fmt.Errorf("onnx estimator: unsupported input layout %q", opts.Layout)
	}
	net := gocv.ReadNetFromONNX(opts.ModelPath)
	if net.Empty() {
		_ = net.Close()
		return nil, fmt.Errorf("onnx estimator: failed to load %s", opts.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	return &OnnxEstimator{net: net, opts: opts, State: IDLE}, nil
}

// letterbox records how the source image was fitted into the square network input.
type letterbox struct {
	scaledW, scaledH float64
	padX, padY       float64
}

func (e *OnnxEstimator) Estimate(ctx context.Context, img iface.ImageData) (*iface.LandmarkSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := ImageToMat(img)
	if err != nil {
		return nil, fmt.Errorf("onnx estimator: %w", err)
	}
	defer src.Close()

	blob, box, err := e.prepare(src)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	e.mu.Lock()
	if e.State == UNREGISTERED {
		e.mu.Unlock()
		return nil, errors.New("onnx estimator: closed")
	}
	e.State = BUSY
	e.net.SetInput(blob, e.opts.InputName)
	outs := e.net.ForwardLayers([]string{e.opts.LandmarkOutput, e.opts.FlagOutput})
	e.State = IDLE
	e.mu.Unlock()
	defer func() {
		for i := range outs {
			_ = outs[i].Close()
		}
	}()
	if len(outs) != 2 {
		return nil, fmt.Errorf("onnx estimator: expected 2 outputs, got %d", len(outs))
	}

	raw, err := outs[0].DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("onnx estimator: read landmarks: %w", err)
	}
	flag, err := outs[1].DataPtrFloat32()
	if err != nil || len(flag) == 0 {
		return nil, fmt.Errorf("onnx estimator: read pose flag: %v", err)
	}
	return decodeLandmarks(raw, flag[0], box, e.opts.MinDetectionConfidence)
}

// prepare converts BGR to RGB, letterboxes to the input size and builds a float blob in [0,1].
func (e *OnnxEstimator) prepare(src gocv.Mat) (gocv.Mat, letterbox, error) {
	size := e.opts.InputSize
	w, h := src.Cols(), src.Rows()
	if w == 0 || h == 0 {
		return gocv.NewMat(), letterbox{}, ErrEmptyDecode
	}
	scale := float64(size) / math.Max(float64(w), float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	padX := (size - nw) / 2
	padY := (size - nh) / 2

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(src, &rgb, gocv.ColorBGRToRGB)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(rgb, &resized, image.Pt(nw, nh), 0, 0, gocv.InterpolationLinear)

	padded := gocv.NewMat()
	defer padded.Close()
	gocv.CopyMakeBorder(resized, &padded, padY, size-nh-padY, padX, size-nw-padX, gocv.BorderConstant, color.RGBA{})

	input := gocv.NewMat()
	defer input.Close()
	padded.ConvertToWithParams(&input, gocv.MatTypeCV32FC3, 1.0/255.0, 0)

	box := letterbox{scaledW: float64(nw), scaledH: float64(nh), padX: float64(padX), padY: float64(padY)}
	if e.opts.Layout == LayoutNCHW {
		return gocv.BlobFromImage(input, 1.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), false, false), box, nil
	}
	blob, err := gocv.NewMatWithSizesFromBytes([]int{1, size, size, 3}, gocv.MatTypeCV32F, input.ToBytes())
	if err != nil {
		return gocv.NewMat(), box, fmt.Errorf("onnx estimator: build input blob: %w", err)
	}
	return blob, box, nil
}

func decodeLandmarks(raw []float32, flag float32, box letterbox, minConf float32) (*iface.LandmarkSet, error) {
	score := float64(flag)
	if score < 0 || score > 1 {
		score = sigmoid(score)
	}
	if score < float64(minConf) {
		return nil, nil
	}
	n := len(raw) / defaultStride
	if n == 0 {
		return nil, nil
	}
	if n > iface.NumLandmarks {
		n = iface.NumLandmarks
	}
	set := &iface.LandmarkSet{Landmarks: make([]iface.Landmark, n)}
	for i := 0; i < n; i++ {
		v := raw[i*defaultStride : (i+1)*defaultStride]
		set.Landmarks[i] = iface.Landmark{
			X:          (float64(v[0]) - box.padX) / box.scaledW,
			Y:          (float64(v[1]) - box.padY) / box.scaledH,
			Z:          float64(v[2]) / box.scaledW,
			Visibility: sigmoid(float64(v[3])),
		}
	}
	return set, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func (e *OnnxEstimator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State == UNREGISTERED {
		return nil
	}
	e.State = UNREGISTERED
	return e.net.Close()
}
