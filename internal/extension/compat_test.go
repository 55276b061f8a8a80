package extension

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/artifex/internal/platform"
)

func TestCompatible(t *testing.T) {
	tests := []struct {
		targets  []string
		detected platform.Platform
		want     bool
	}{
		{[]string{"any"}, platform.IOS, true},
		{[]string{"any"}, platform.Android, true},
		{[]string{"any"}, platform.Unknown, true},
		{[]string{"ios"}, platform.IOS, true},
		{[]string{"ios"}, platform.Android, false},
		{[]string{"ios"}, platform.Unknown, false},
		{[]string{"ios", "android"}, platform.IOS, true},
		{[]string{"ios", "android"}, platform.Android, true},
		{[]string{"ios", "android"}, platform.Unknown, false},
		{[]string{"ios", "android"}, platform.Windows, false},
		{[]string{"linux", "any"}, platform.Windows, true},
		{[]string{"unknown"}, platform.Unknown, false},
	}
	for _, tt := range tests {
		got := Compatible(tt.targets, tt.detected)
		assert.Equal(t, tt.want, got, "Compatible(%v, %s)", tt.targets, tt.detected)
	}
}
