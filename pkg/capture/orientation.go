package capture

import (
	"fmt"
	"strings"
)

// Orientation is the physical orientation of the device
type Orientation int

const (
	OrientationUnknown Orientation = iota
	OrientationPortrait
	OrientationPortraitUpsideDown
	OrientationLandscapeLeft
	OrientationLandscapeRight
	OrientationFaceUp
	OrientationFaceDown
)

var orientationNames = map[Orientation]string{
	OrientationUnknown:            "unknown",
	OrientationPortrait:           "portrait",
	OrientationPortraitUpsideDown: "portrait-upside-down",
	OrientationLandscapeLeft:      "landscape-left",
	OrientationLandscapeRight:     "landscape-right",
	OrientationFaceUp:             "face-up",
	OrientationFaceDown:           "face-down",
}

func (o Orientation) String() string {
	if name, ok := orientationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("orientation(%d)", int(o))
}

// RotationAngle is the capture rotation in degrees for o. Orientations
// without a defined angle use portrait.
func (o Orientation) RotationAngle() int {
	switch o {
	case OrientationPortraitUpsideDown:
		return 270
	case OrientationLandscapeLeft:
		return 0
	case OrientationLandscapeRight:
		return 180
	default:
		return 90
	}
}

// ParseOrientation accepts the names returned by String, case-insensitively
func ParseOrientation(s string) (Orientation, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return OrientationUnknown, nil
	}
	for o, name := range orientationNames {
		if name == s {
			return o, nil
		}
	}
	return OrientationUnknown, fmt.Errorf("unknown orientation %q", s)
}

// StaticOrientation always reports the same orientation
type StaticOrientation Orientation

// Orientation implements OrientationSource
func (s StaticOrientation) Orientation() Orientation {
	return Orientation(s)
}
