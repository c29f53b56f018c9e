package dto

import "headcount/internal/model"

// AnalyzeResponse is the success body of POST /process_video. face_count is
// the maximum per-frame count of the requested label.
type AnalyzeResponse struct {
	FaceCount      int    `json:"face_count"`
	FramesExamined int    `json:"frames_examined"`
	RunID          string `json:"run_id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type RunList struct {
	Runs   []model.Run `json:"runs"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

type RunDetail struct {
	model.Run
	Frames []model.FrameResult `json:"frames"`
}

// RunEvent is pushed to websocket clients while runs progress.
type RunEvent struct {
	Type     string `json:"type"`
	RunID    string `json:"run_id"`
	Stage    string `json:"stage,omitempty"`
	Frame    int    `json:"frame,omitempty"`
	Count    int    `json:"count,omitempty"`
	MaxCount int    `json:"max_count,omitempty"`
	Status   string `json:"status,omitempty"`
}
