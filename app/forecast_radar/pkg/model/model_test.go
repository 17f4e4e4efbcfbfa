package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckOptions(t *testing.T) {
	assert.NoError(t, CheckOptions([]string{"Red", "Green", "Blue"}))

	for name, opts := range map[string][]string{
		"nil":       nil,
		"one":       {"A"},
		"duplicate": {"A", "B", "A"},
		"empty":     {"A", ""},
		"blank":     {"A", "  "},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, CheckOptions(opts))
		})
	}
}
