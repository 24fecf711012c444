// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := map[string]string{
		"":             Local,
		"development":  Local,
		" Production ": Production,
		"prod":         Production,
		"staging":      Staging,
		"testing":      Testing,
		"qa":           "qa",
	}
	for in, want := range tests {
		assert.Equal(t, want, parse(in), "input %q", in)
	}
}

func TestOverride(t *testing.T) {
	prev := Env
	restore := Override("prod")
	assert.True(t, IsProduction())
	assert.False(t, IsLocal())

	restore()
	assert.Equal(t, prev, Env)
}
