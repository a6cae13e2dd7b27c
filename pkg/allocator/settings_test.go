// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

package allocator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSettings(t *testing.T) {
	s, err := LoadSettings([]byte(`
target_tablet_size: 1073741824
max_plan_size: 8
shuffle: true
`))
	require.NoError(t, err)
	require.Equal(t, uint64(1<<30), s.TargetTabletSize)
	require.Equal(t, 8, s.MaxPlanSize)
	require.True(t, s.Shuffle)
}

func TestLoadSettingsDefaultsAndValidation(t *testing.T) {
	s, err := LoadSettings([]byte(``))
	require.NoError(t, err)
	require.Equal(t, DefaultSettings(), s)

	_, err = LoadSettings([]byte(`max_plan_size: -1`))
	require.Error(t, err)

	_, err = LoadSettings([]byte(`no_such_knob: 1`))
	require.Error(t, err)
}
