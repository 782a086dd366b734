package common

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	assert.Equal(t, ProjectName, info.ProjectName)
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.True(t, IsDevBuild())
	assert.Equal(t, Version+"-dev (unknown)", GetFullVersion())

	var buf bytes.Buffer
	PrintVersion(&buf, "signal-bot")
	assert.Contains(t, buf.String(), "signal-bot v"+Version)
}
