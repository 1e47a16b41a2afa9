// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReleaseSemver(t *testing.T) {
	cases := []struct{ releaseVersion, releaseSemver string }{
		{"None", ""},
		{"HEAD", ""},
		{"v1.0.0", "1.0.0"},
		{"v1.0.0-rc.1", "1.0.0-rc.1"},
		{"v1.0.0-dirty", "1.0.0"},
		{"v1.0.0-3-g1a2b3c4", "1.0.0"},
		{"v1.0.0-rc.1-3-g1a2b3c4-dirty", "1.0.0-rc.1"},
	}

	for _, cs := range cases {
		ReleaseVersion = cs.releaseVersion
		require.Equal(t, cs.releaseSemver, ReleaseSemver(), "%v", cs)
	}
	ReleaseVersion = "None"
}

func TestGetRawInfo(t *testing.T) {
	info := GetRawInfo()
	require.Contains(t, info, "Release Version: ")
	require.Contains(t, info, "Go Version: ")
}
