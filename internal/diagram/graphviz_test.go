package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderImage_PNG(t *testing.T) {
	model := Build(branchGraph(t))
	Overlay(model, []string{"start", "check", "denied"}, false, "")

	png, err := RenderImage(context.Background(), model, FormatPNG)
	require.NoError(t, err)
	require.Greater(t, len(png), 8)

	// PNG magic bytes: 0x89 P N G.
	assert.Equal(t, byte(0x89), png[0])
	assert.Equal(t, []byte("PNG"), png[1:4])
}

func TestRenderImage_SVG(t *testing.T) {
	svg, err := RenderImage(context.Background(), Build(loopGraph(t)), FormatSVG)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
	assert.Contains(t, string(svg), "executor")
}

func TestRenderImage_UnknownFormat(t *testing.T) {
	_, err := RenderImage(context.Background(), Build(loopGraph(t)), "bmp")
	assert.Error(t, err)
}
