package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// captureStdout runs fn with os.Stdout redirected and returns what it wrote.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	runErr := fn()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String(), runErr
}

func serverApp() *cli.App {
	return &cli.App{
		Name: "satsforward",
		Commands: []*cli.Command{
			{
				Name: "server",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				EnvVars: []string{"SERVER_URL"},
			},
		},
	}
}

func TestHealthCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	os.Setenv("SERVER_URL", server.URL)
	defer os.Unsetenv("SERVER_URL")

	output, err := captureStdout(t, func() error {
		return serverApp().Run([]string{"satsforward", "server", "health"})
	})
	require.NoError(t, err)
	assert.Contains(t, output, "Server is healthy")
}

func TestHealthCommand_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	os.Setenv("SERVER_URL", server.URL)
	defer os.Unsetenv("SERVER_URL")

	err := serverApp().Run([]string{"satsforward", "server", "health"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
	assert.Contains(t, err.Error(), "500")
}

func TestHealthCommand_MissingServerURL(t *testing.T) {
	os.Unsetenv("SERVER_URL")

	err := serverApp().Run([]string{"satsforward", "server", "health"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server-url is required")
}

func TestVersionCommand(t *testing.T) {
	version = "1.0.0"
	commit = "abc123"
	date = "2026-10-01"

	output, err := captureStdout(t, func() error {
		return serverApp().Run([]string{"satsforward", "server", "version"})
	})
	require.NoError(t, err)
	assert.Contains(t, output, "1.0.0")
	assert.Contains(t, output, "abc123")
}
