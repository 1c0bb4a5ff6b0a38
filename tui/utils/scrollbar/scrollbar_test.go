package scrollbar

import (
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/stretchr/testify/assert"
)

func lines(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = "line"
	}
	return strings.Join(out, "\n")
}

func countThumb(cells []string) int {
	n := 0
	for _, c := range cells {
		if strings.Contains(c, thumb) {
			n++
		}
	}
	return n
}

func TestGenerateFitsContent(t *testing.T) {
	vp := viewport.New(10, 5)
	vp.SetContent(lines(3))
	assert.Equal(t, 5, countThumb(Generate(&vp, 5)))
}

func TestGenerateProportionalThumb(t *testing.T) {
	vp := viewport.New(10, 5)
	vp.SetContent(lines(50))

	cells := Generate(&vp, 10)
	assert.Len(t, cells, 10)
	assert.Equal(t, 1, countThumb(cells))
	assert.Contains(t, cells[0], thumb)

	vp.GotoBottom()
	cells = Generate(&vp, 10)
	assert.Contains(t, cells[9], thumb)
}

func TestGenerateEmpty(t *testing.T) {
	vp := viewport.New(10, 5)
	assert.Nil(t, Generate(&vp, 0))
	assert.Equal(t, 0, countThumb(Generate(&vp, 3)))
}
