package service

import iface "YogaPoseServer/interface"

type PoseDocument struct {
	Keypoints          []float64        `json:"keypoints"`
	Landmarks          []iface.Landmark `json:"landmarks"`
	PoseClassification *string          `json:"pose_classification"`
	Confidence         float64          `json:"confidence"`
	ImageShape         []int            `json:"image_shape"`
}

type NoPoseDocument struct {
	Error              string    `json:"error"`
	Keypoints          []float64 `json:"keypoints"`
	PoseClassification *string   `json:"pose_classification"`
	Confidence         float64   `json:"confidence"`
}

// Document renders the JSON body returned to clients for r.
func (r *Result) Document() any {
	if !r.PoseFound {
		return NoPoseDocument{Error: MsgNoPose}
	}
	landmarks := r.Landmarks
	if landmarks == nil {
		landmarks = []iface.Landmark{}
	}
	return PoseDocument{
		Keypoints:          r.Keypoints,
		Landmarks:          landmarks,
		PoseClassification: r.Classification.Label,
		Confidence:         r.Classification.Confidence,
		ImageShape:         r.ImageShape,
	}
}

type HealthDocument struct {
	Status           string `json:"status"`
	ClassifierLoaded bool   `json:"classifier_loaded"`
	ModelPath        string `json:"model_path"`
}

func (s *Service) Health() HealthDocument {
	return HealthDocument{
		Status:           "healthy",
		ClassifierLoaded: s.ClassifierLoaded(),
		ModelPath:        s.modelPath,
	}
}

type IndexDocument struct {
	Message          string            `json:"message"`
	Endpoints        map[string]string `json:"endpoints"`
	ClassifierLoaded bool              `json:"classifier_loaded"`
}

func (s *Service) Index() IndexDocument {
	return IndexDocument{
		Message: "Yoga Pose AI Backend",
		Endpoints: map[string]string{
			"detect_pose":        "/detect-pose (POST)",
			"detect_pose_stream": "/ws/detect-pose (GET)",
			"health":             "/health (GET)",
		},
		ClassifierLoaded: s.ClassifierLoaded(),
	}
}
