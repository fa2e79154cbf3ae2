package models

import "fmt"

// LandmarkID is the detector's index for a body or face point.
type LandmarkID int

const (
	PoseLeftShoulder  LandmarkID = 11
	PoseRightShoulder LandmarkID = 12
	PoseLeftHip       LandmarkID = 23
	PoseRightHip      LandmarkID = 24
	PoseLeftHeel      LandmarkID = 29
	PoseRightHeel     LandmarkID = 30
)

const (
	FaceNoseTip       LandmarkID = 1
	FaceLeftEyeOuter  LandmarkID = 33
	FaceRightEyeOuter LandmarkID = 263
)

var landmarkNames = map[LandmarkID]string{
	PoseLeftShoulder:  "left_shoulder",
	PoseRightShoulder: "right_shoulder",
	PoseLeftHip:       "left_hip",
	PoseRightHip:      "right_hip",
	PoseLeftHeel:      "left_heel",
	PoseRightHeel:     "right_heel",
}

var faceLandmarkNames = map[LandmarkID]string{
	FaceNoseTip:       "nose_tip",
	FaceLeftEyeOuter:  "left_eye",
	FaceRightEyeOuter: "right_eye",
}

func (id LandmarkID) String() string {
	if name, ok := landmarkNames[id]; ok {
		return name
	}
	return fmt.Sprintf("landmark_%d", int(id))
}

// FaceName is like String but resolves against the face mesh index space.
func (id LandmarkID) FaceName() string {
	if name, ok := faceLandmarkNames[id]; ok {
		return name
	}
	return fmt.Sprintf("face_landmark_%d", int(id))
}

type Landmark struct {
	ID         LandmarkID `json:"id"`
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	Z          *float64   `json:"z,omitempty"`
	Visibility *float64   `json:"visibility,omitempty"`
}

type LandmarkFrame struct {
	FrameIndex int        `json:"frame_index"`
	Timestamp  float64    `json:"timestamp"`
	Landmarks  []Landmark `json:"landmarks"`
}

type PoseFrame = LandmarkFrame

type FaceFrame = LandmarkFrame

// Empty reports whether the detector found nothing in this frame.
func (f *LandmarkFrame) Empty() bool {
	return f == nil || len(f.Landmarks) == 0
}

func (f *LandmarkFrame) Landmark(id LandmarkID) (Landmark, bool) {
	if f == nil {
		return Landmark{}, false
	}
	for _, lm := range f.Landmarks {
		if lm.ID == id {
			return lm, true
		}
	}
	return Landmark{}, false
}
