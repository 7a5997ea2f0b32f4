package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBar_FinishesAfterFullCount(t *testing.T) {
	var buf bytes.Buffer
	bar := NewBar(&buf, 100, "staging")

	bar.IncrementBy(40)
	bar.IncrementBy(60)
	bar.Finish()

	assert.True(t, bar.IsFinished())
}

func TestBar_NilIsNoop(t *testing.T) {
	var bar *Bar
	assert.NotPanics(t, func() {
		bar.IncrementBy(10)
		bar.Finish()
	})
}
