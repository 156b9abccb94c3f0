package pgrest

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgeflare/pgrest/pkg/config"
	"github.com/edgeflare/pgrest/pkg/postgrest/resttest"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag to its default so commands can be executed
// repeatedly in one process.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--log-level", "none"))
	err := rootCmd.Execute()
	return out.String(), err
}

func startFixture(t *testing.T) string {
	t.Helper()
	srv := resttest.NewFixture().Start()
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestVersion(t *testing.T) {
	out, err := run(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, config.Version+"\n", out)
}

func TestGetCommand(t *testing.T) {
	url := startFixture(t)

	out, err := run(t, "get", "users", "--url", url, "--select", "username", "--eq", "username=leroyjenkins")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	out, err = run(t, "get", "users", "--url", url, "-s", "personal", "--select", "username", "--eq", "username=leroyjenkins")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"username":"leroyjenkins"}]`, out)
}

func TestGetCommandFilters(t *testing.T) {
	url := startFixture(t)

	out, err := run(t, "get", "users", "--url", url,
		"--select", "username", "-f", "status=eq.ONLINE", "--order", "username.desc", "--limit", "2")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"username":"supabot"},{"username":"dragarcia"}]`, out)
}

func TestUpdateCommand(t *testing.T) {
	url := startFixture(t)

	out, err := run(t, "update", "users", "--url", url, "--schema", "personal",
		"--data", `{"status":"OFFLINE"}`, "--eq", "username=supabot", "--select", "status")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"status":"OFFLINE"}]`, out)

	_, err = run(t, "update", "users", "--url", url, "--data", `{not json`)
	assert.ErrorContains(t, err, "--data")
}

func TestInsertAndDeleteCommands(t *testing.T) {
	url := startFixture(t)

	out, err := run(t, "insert", "channels", "--url", url, "--data", `{"id":3,"slug":"general"}`, "--status")
	require.NoError(t, err)
	assert.Contains(t, out, "HTTP 201\n")
	assert.Contains(t, out, `"slug":"general"`)

	out, err = run(t, "delete", "channels", "--url", url, "--eq", "id=3", "--select", "slug")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"slug":"general"}]`, out)
}

func TestRPCCommand(t *testing.T) {
	url := startFixture(t)

	out, err := run(t, "rpc", "get_status", "--url", url, "--schema", "personal", "--args", `{"name_param":"leroyjenkins"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `"ONLINE"`, out)

	out, err = run(t, "rpc", "nonexistent_procedure", "--url", url, "--schema", "personal", "--args", `{"param":0}`)
	require.Error(t, err)
	assert.Contains(t, out, "Could not find the function personal.nonexistent_procedure(param) in the schema cache")
}

func TestInvalidSchemaCommand(t *testing.T) {
	url := startFixture(t)

	out, err := run(t, "get", "channels", "--url", url, "--schema", "private", "--status")
	require.Error(t, err)
	assert.Contains(t, out, "HTTP 406\n")
	assert.Contains(t, out, `"message":"Invalid schema: private"`)
}

func TestServeRouterBasePath(t *testing.T) {
	srv := httptest.NewServer(newServeRouter(resttest.NewFixture(), "/rest/v1/"))
	t.Cleanup(srv.Close)

	out, err := run(t, "get", "users", "--url", srv.URL+"/rest/v1", "-s", "personal", "--select", "username", "--eq", "username=leroyjenkins")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"username":"leroyjenkins"}]`, out)

	resp, err := http.Get(srv.URL + "/users")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeRouterWithoutBasePath(t *testing.T) {
	srv := httptest.NewServer(newServeRouter(resttest.NewFixture(), ""))
	t.Cleanup(srv.Close)

	out, err := run(t, "rpc", "get_status", "--url", srv.URL, "--schema", "personal", "--args", `{"name_param":"supabot"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `"ONLINE"`, out)
}
