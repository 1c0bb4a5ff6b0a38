package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimpleTable(t *testing.T) {
	out := SimpleTable([]string{"ID", "NAME"}, [][]string{{"1", "alpha"}, {"2", "beta"}})
	for _, want := range []string{"ID", "NAME", "alpha", "beta", "╭"} {
		assert.Contains(t, out, want)
	}
}

func TestStatusTable(t *testing.T) {
	out := StatusTable([][]string{{"PID", "42"}, {"ignored"}, {"Socket", "/tmp/s.sock"}})
	assert.Contains(t, out, "PID:")
	assert.Contains(t, out, "/tmp/s.sock")
	assert.NotContains(t, out, "ignored")
	assert.NotContains(t, out, "╭")
}
