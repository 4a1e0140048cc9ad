package routes

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureCollection(t *testing.T) {
	segments := []Segment{
		{{41.000, 29.000}, {41.001, 29.000}},
		{{41.100, 29.000}},
	}

	fc := FeatureCollection(segments)
	require.Len(t, fc.Features, 2)

	line, ok := fc.Features[0].Geometry.(orb.LineString)
	require.True(t, ok, "multi-point segment should be a LineString")
	assert.Equal(t, orb.LineString{{29.000, 41.000}, {29.000, 41.001}}, line)
	assert.Equal(t, 0, fc.Features[0].Properties["index"])
	assert.Equal(t, 2, fc.Features[0].Properties["points"])

	pt, ok := fc.Features[1].Geometry.(orb.Point)
	require.True(t, ok, "single-point segment should be a Point")
	assert.Equal(t, orb.Point{29.000, 41.100}, pt)

	raw, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"FeatureCollection"`)
	assert.Contains(t, string(raw), `"LineString"`)
}

func TestFeatureCollectionEmpty(t *testing.T) {
	fc := FeatureCollection(nil)
	assert.Empty(t, fc.Features)
}
