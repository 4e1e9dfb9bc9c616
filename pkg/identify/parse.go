package identify

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/menta2k/insect-identifier/pkg/types"
)

// payload mirrors types.AnalysisResult with pointers so absent fields can be told apart
type payload struct {
	CommonName        *string `json:"common_name"`
	ScientificName    *string `json:"scientific_name"`
	Habitat           *string `json:"habitat"`
	LifeStage         *string `json:"life_stage"`
	IsPest            *bool   `json:"is_pest"`
	DangerLevel       *string `json:"danger_level"`
	DangerDescription *string `json:"danger_description"`
	HowToFind         *string `json:"how_to_find"`
	HowToEliminate    *string `json:"how_to_eliminate"`
}

// ParseResult turns the model's reply text into a validated result.
// Errors are always *Error of KindDecoding or KindNotAnInsect.
func ParseResult(content string) (*types.AnalysisResult, error) {
	cleaned := SanitizeModelJSON(content)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, DecodingError("response contained no JSON object", nil)
	}

	var p payload
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return nil, DecodingError(err.Error(), err)
	}

	if missing := p.missingFields(); len(missing) > 0 {
		return nil, DecodingError(fmt.Sprintf("missing required field(s): %s", strings.Join(missing, ", ")), nil)
	}

	if (types.AnalysisResult{CommonName: *p.CommonName}).IsUnknown() {
		return nil, NotAnInsect()
	}

	level, err := types.ParseDangerLevel(*p.DangerLevel)
	if err != nil {
		return nil, DecodingError(err.Error(), err)
	}

	result := &types.AnalysisResult{
		CommonName:        *p.CommonName,
		ScientificName:    *p.ScientificName,
		Habitat:           *p.Habitat,
		LifeStage:         *p.LifeStage,
		IsPest:            *p.IsPest,
		DangerLevel:       level,
		DangerDescription: *p.DangerDescription,
		HowToFind:         *p.HowToFind,
		HowToEliminate:    *p.HowToEliminate,
	}
	return result, nil
}

func (p payload) missingFields() []string {
	var missing []string
	check := func(name string, present bool) {
		if !present {
			missing = append(missing, name)
		}
	}
	check("common_name", p.CommonName != nil)
	check("scientific_name", p.ScientificName != nil)
	check("habitat", p.Habitat != nil)
	check("life_stage", p.LifeStage != nil)
	check("is_pest", p.IsPest != nil)
	check("danger_level", p.DangerLevel != nil)
	check("danger_description", p.DangerDescription != nil)
	check("how_to_find", p.HowToFind != nil)
	check("how_to_eliminate", p.HowToEliminate != nil)
	return missing
}

// SanitizeModelJSON trims whitespace and code fences from a reply and keeps
// the outermost {...} when the object is surrounded by other text.
func SanitizeModelJSON(raw string) string {
	raw = StripCodeFences(raw)

	if strings.HasPrefix(raw, "{") {
		return raw
	}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// StripCodeFences removes a leading ``` (with optional language tag) and a
// trailing ``` together with surrounding whitespace.
func StripCodeFences(raw string) string {
	raw = strings.TrimSpace(raw)

	if rest, ok := strings.CutPrefix(raw, "```"); ok {
		// The tag runs up to the first character that cannot be part of one;
		// a JSON object always starts with '{'.
		raw = strings.TrimLeftFunc(rest, isFenceTagRune)
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}

func isFenceTagRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '+' || r == '.'
}
