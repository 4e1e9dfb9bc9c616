package types

import (
	"fmt"
	"strings"
	"time"
)

// DangerLevel is the provider's assessment of how dangerous an insect is
type DangerLevel string

const (
	DangerHigh   DangerLevel = "HIGH"
	DangerMedium DangerLevel = "MEDIUM"
	DangerLow    DangerLevel = "LOW"
)

// ParseDangerLevel accepts HIGH, MEDIUM or LOW in any case
func ParseDangerLevel(s string) (DangerLevel, error) {
	switch level := DangerLevel(strings.ToUpper(strings.TrimSpace(s))); level {
	case DangerHigh, DangerMedium, DangerLow:
		return level, nil
	default:
		return "", fmt.Errorf("unknown danger level %q", s)
	}
}

// UnmarshalText normalizes the level to upper case
func (d *DangerLevel) UnmarshalText(text []byte) error {
	level, err := ParseDangerLevel(string(text))
	if err != nil {
		return err
	}
	*d = level
	return nil
}

// UnknownName is what the model reports as common name when the photo
// does not show an insect.
const UnknownName = "unknown"

// AnalysisResult is the structured identification returned by the vision model
type AnalysisResult struct {
	CommonName        string      `json:"common_name"`
	ScientificName    string      `json:"scientific_name"`
	Habitat           string      `json:"habitat"`
	LifeStage         string      `json:"life_stage"`
	IsPest            bool        `json:"is_pest"`
	DangerLevel       DangerLevel `json:"danger_level"`
	DangerDescription string      `json:"danger_description"`
	HowToFind         string      `json:"how_to_find"`
	HowToEliminate    string      `json:"how_to_eliminate"`
}

// IsUnknown reports whether the result is the "not an insect" sentinel
func (r AnalysisResult) IsUnknown() bool {
	return strings.EqualFold(strings.TrimSpace(r.CommonName), UnknownName)
}

// CapturedRecord is a persisted capture with an optional analysis result
type CapturedRecord struct {
	ID             string          `json:"id"`
	CommonName     string          `json:"common_name"`
	ScientificName string          `json:"scientific_name"`
	CapturedAt     time.Time       `json:"captured_at"`
	ImagePath      string          `json:"image_path,omitempty"`
	BugResult      *AnalysisResult `json:"bug_result,omitempty"`
}

// HasImage reports whether an image blob was written for the record
func (r CapturedRecord) HasImage() bool {
	return r.ImagePath != ""
}

// IsAnalyzed reports whether a result has been attached
func (r CapturedRecord) IsAnalyzed() bool {
	return r.BugResult != nil
}

// ProcessingOptions controls how images are prepared before being sent to a model
type ProcessingOptions struct {
	MaxDimension int
	Quality      int
}
