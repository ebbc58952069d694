package telemetry

import "sort"

// BlendshapeNames is the fixed slot order of the "bs" array. Receivers index
// into the array by position, so this list must match theirs entry by entry.
var BlendshapeNames = sortedCopy([]string{
	"_neutral",
	"browDownLeft",
	"browDownRight",
	"browInnerUp",
	"browOuterUpLeft",
	"browOuterUpRight",
	"cheekPuff",
	"cheekSquintLeft",
	"cheekSquintRight",
	"eyeBlinkLeft",
	"eyeBlinkRight",
	"eyeLookDownLeft",
	"eyeLookDownRight",
	"eyeLookInLeft",
	"eyeLookInRight",
	"eyeLookOutLeft",
	"eyeLookOutRight",
	"eyeLookUpLeft",
	"eyeLookUpRight",
	"eyeSquintLeft",
	"eyeSquintRight",
	"eyeWideLeft",
	"eyeWideRight",
	"jawForward",
	"jawLeft",
	"jawOpen",
	"jawRight",
	"mouthClose",
	"mouthDimpleLeft",
	"mouthDimpleRight",
	"mouthFrownLeft",
	"mouthFrownRight",
	"mouthFunnel",
	"mouthLeft",
	"mouthLowerDownLeft",
	"mouthLowerDownRight",
	"mouthPressLeft",
	"mouthPressRight",
	"mouthPucker",
	"mouthRight",
	"mouthRollLower",
	"mouthRollUpper",
	"mouthShrugLower",
	"mouthShrugUpper",
	"mouthSmileLeft",
	"mouthSmileRight",
	"mouthStretchLeft",
	"mouthStretchRight",
	"mouthUpperUpLeft",
	"mouthUpperUpRight",
	"noseSneerLeft",
	"noseSneerRight",
})

// Face mesh landmark ids carried in the "lm" array, in slot order.
const (
	LandmarkChin             = "152"
	LandmarkRightUpperEyelid = "226"
	LandmarkLeftUpperEyelid  = "446"
)

// LandmarkIDs is the fixed slot order of the "lm" array.
var LandmarkIDs = []string{LandmarkChin, LandmarkRightUpperEyelid, LandmarkLeftUpperEyelid}

// LandmarkNames gives a readable label per landmark id.
var LandmarkNames = map[string]string{
	LandmarkChin:             "chin",
	LandmarkRightUpperEyelid: "right upper eyelid",
	LandmarkLeftUpperEyelid:  "left upper eyelid",
}

var (
	blendshapeIndex = indexOf(BlendshapeNames)
	landmarkIndex   = indexOf(LandmarkIDs)
)

// BlendshapeIndex returns the "bs" slot of name, or -1.
func BlendshapeIndex(name string) int {
	if i, ok := blendshapeIndex[name]; ok {
		return i
	}
	return -1
}

// LandmarkIndex returns the "lm" slot of id, or -1.
func LandmarkIndex(id string) int {
	if i, ok := landmarkIndex[id]; ok {
		return i
	}
	return -1
}

func sortedCopy(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}

func indexOf(names []string) map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		m[n] = i
	}
	return m
}
