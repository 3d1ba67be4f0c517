package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunDispatch(t *testing.T) {
	started := 0
	orig := startServer
	startServer = func(stdout, stderr io.Writer) int {
		started++
		return 0
	}
	defer func() { startServer = orig }()

	var out, errOut bytes.Buffer

	assert.Equal(t, 0, Run([]string{"salesagent"}, &out, &errOut))
	assert.Equal(t, 0, Run([]string{"salesagent", "serve"}, &out, &errOut))
	assert.Equal(t, 2, started)

	out.Reset()
	assert.Equal(t, 0, Run([]string{"salesagent", "version"}, &out, &errOut))
	assert.Equal(t, version, strings.TrimSpace(out.String()))

	out.Reset()
	assert.Equal(t, 0, Run([]string{"salesagent", "help"}, &out, &errOut))
	assert.Contains(t, out.String(), "migrate")

	errOut.Reset()
	assert.Equal(t, 2, Run([]string{"salesagent", "frobnicate"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "Unknown command")
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, runMigrateCmd(&out, &errOut))
	assert.Contains(t, errOut.String(), "DATABASE_URL")
}

func TestTokenRequiresSecretAndArgs(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, runTokenCmd([]string{"s", "t"}, &out, &errOut))

	t.Setenv("JWT_SECRET", "dev-secret")
	errOut.Reset()
	assert.Equal(t, 2, runTokenCmd(nil, &out, &errOut))

	out.Reset()
	assert.Equal(t, 0, runTokenCmd([]string{"ops@example.com", "t-1", "approver"}, &out, &errOut))
	assert.NotEmpty(t, strings.TrimSpace(out.String()))
}
