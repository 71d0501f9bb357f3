package analytics

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeypoint_UnmarshalAliases(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Keypoint
	}{
		{"confidence", `{"x":0.1,"y":0.2,"confidence":0.7}`, Keypoint{0.1, 0.2, 0.7}},
		{"tfjs score", `{"x":0.1,"y":0.2,"score":0.6}`, Keypoint{0.1, 0.2, 0.6}},
		{"mediapipe visibility", `{"x":0.1,"y":0.2,"z":-0.3,"visibility":0.5}`, Keypoint{0.1, 0.2, 0.5}},
		{"confidence wins", `{"x":0,"y":0,"confidence":0.9,"score":0.1}`, Keypoint{0, 0, 0.9}},
		{"missing score", `{"x":0.3,"y":0.4}`, Keypoint{0.3, 0.4, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Keypoint
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTopologyByName(t *testing.T) {
	for name, want := range map[string]Topology{
		"":            COCO17,
		"coco17":      COCO17,
		"BlazePose33": BlazePose33,
		"mediapipe":   BlazePose33,
	} {
		got, err := TopologyByName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := TopologyByName("openpose25")
	assert.Error(t, err)
}

func TestConfidenceGate(t *testing.T) {
	gate := ConfidenceGate{MinConfidence: 0.3}

	_, ok := gate.Accept(COCO17, uniform(120))
	assert.True(t, ok)

	s := uniform(120)
	s[COCO17.RightElbow].Confidence = 0.29
	_, ok = gate.Accept(COCO17, s)
	assert.False(t, ok, "one weak arm joint rejects the frame")

	// Joints outside the arms do not matter.
	s = uniform(120)
	s[0].Confidence = 0
	_, ok = gate.Accept(COCO17, s)
	assert.True(t, ok)
}
