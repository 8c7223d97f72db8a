package cmd

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmd_Output(t *testing.T) {
	cmd := newVersionCmd()

	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())

	v := readBuildVersion()
	output := out.String()

	for _, want := range []string{
		"semtaint version\t " + v.module,
		"revision\t\t " + v.revision,
		"go version\t\t " + v.goVer,
		fmt.Sprintf("config version\t\t %d", currentConfigVersion),
	} {
		assert.Contains(t, output, want)
	}
}

func TestReadBuildVersion(t *testing.T) {
	v := readBuildVersion()

	assert.NotEmpty(t, v.module)
	assert.NotEmpty(t, v.revision)
	assert.NotEqual(t, unknownVersion, v.goVer)
}
