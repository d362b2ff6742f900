package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func testApp(commands ...*cli.Command) *cli.App {
	return &cli.App{
		Name: "caja",
		Commands: []*cli.Command{
			{
				Name:        "server",
				Subcommands: commands,
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
	// Create test server that returns 200 OK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	os.Setenv("SERVER_URL", server.URL)
	defer os.Unsetenv("SERVER_URL")

	app := testApp(healthCommand())
	err := app.Run([]string{"caja", "server", "health"})
	require.NoError(t, err)
}

func TestHealthCommand_Failure(t *testing.T) {
	// Create test server that returns 500
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	os.Setenv("SERVER_URL", server.URL)
	defer os.Unsetenv("SERVER_URL")

	app := testApp(healthCommand())
	err := app.Run([]string{"caja", "server", "health"})
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	app := testApp(versionCommand())
	err := app.Run([]string{"caja", "server", "version"})
	require.NoError(t, err)
}

func TestFormatOptional(t *testing.T) {
	val := "0xabc"
	assert.Equal(t, "0xabc", formatOptional(&val))
	assert.Equal(t, "(none)", formatOptional(nil))

	empty := ""
	assert.Equal(t, "(none)", formatOptional(&empty))
}
