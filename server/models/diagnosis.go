package models

import "time"

type DiagnosisEntry struct {
	Condition            string     `json:"condition"`
	Confidence           float64    `json:"confidence"`
	SupportingModalities []Modality `json:"supporting_modalities"`
	Evidence             []string   `json:"evidence,omitempty"`
}

type Report struct {
	ID                    string              `json:"id"`
	GeneratedAt           time.Time           `json:"generated_at"`
	TextAnalysis          *ModalitySummary    `json:"text_analysis"`
	VisionAnalysis        *ModalitySummary    `json:"vision_analysis"`
	AudioAnalysis         *ModalitySummary    `json:"audio_analysis"`
	VideoAnalysis         *ModalitySummary    `json:"video_analysis"`
	DifferentialDiagnosis []DiagnosisEntry    `json:"differential_diagnosis"`
	ConfidenceScores      map[string]float64  `json:"confidence_scores"`
	Recommendations       []string            `json:"recommendations"`
	FollowUpQuestions     []string            `json:"follow_up_questions,omitempty"`
	Disclaimer            string              `json:"disclaimer"`
	ModalityErrors        map[Modality]string `json:"modality_errors,omitempty"`
	ProcessingTime        float64             `json:"processing_time"`
}

func (r *Report) Analysis(m Modality) *ModalitySummary {
	switch m {
	case ModalityText:
		return r.TextAnalysis
	case ModalityVision:
		return r.VisionAnalysis
	case ModalityAudio:
		return r.AudioAnalysis
	case ModalityVideo:
		return r.VideoAnalysis
	}
	return nil
}

func (r *Report) SetAnalysis(m Modality, s *ModalitySummary) {
	switch m {
	case ModalityText:
		r.TextAnalysis = s
	case ModalityVision:
		r.VisionAnalysis = s
	case ModalityAudio:
		r.AudioAnalysis = s
	case ModalityVideo:
		r.VideoAnalysis = s
	}
}
