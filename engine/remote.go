package engine

import (
	iface "YogaPoseServer/interface"
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// RemoteEstimator delegates landmark detection to an HTTP sidecar that accepts a
// multipart "image" upload and answers {"landmarks":[{x,y,z,visibility}, ...]}.
type RemoteEstimator struct {
	client   *resty.Client
	endpoint string
}

type remoteResponse struct {
	Landmarks []iface.Landmark `json:"landmarks"`
	Error     string           `json:"error"`
}

func NewRemoteEstimator(endpoint string, timeout time.Duration) (*RemoteEstimator, error) {
	if endpoint == "" {
		return nil, errors.New("remote estimator: endpoint cannot be empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().SetTimeout(timeout)
	return &RemoteEstimator{client: client, endpoint: endpoint}, nil
}

func (r *RemoteEstimator) Estimate(ctx context.Context, img iface.ImageData) (*iface.LandmarkSet, error) {
	if len(img.Encoded) == 0 {
		return nil, errors.New("remote estimator: encoded image bytes are required")
	}
	var body remoteResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetFileReader("image", "image", bytes.NewReader(img.Encoded)).
		SetResult(&body).
		SetError(&body).
		Post(r.endpoint)
	if err != nil {
		return nil, fmt.Errorf("remote estimator: request error: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("remote estimator: server returned %s: %s", resp.Status(), body.Error)
	}
	if len(body.Landmarks) == 0 {
		return nil, nil
	}
	return &iface.LandmarkSet{Landmarks: body.Landmarks}, nil
}

func (r *RemoteEstimator) Close() error {
	return nil
}
