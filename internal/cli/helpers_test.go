package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and fresh flag state.
func execute(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	cmd := GetRootCmd()
	resetFlags(t, cmd)

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(stdin))

	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

// resetFlags restores every flag of cmd and its subcommands, including
// cobra's help and version flags, to its default and clears Changed.
func resetFlags(t *testing.T, cmd *cobra.Command) {
	t.Helper()

	reset := func(f *pflag.Flag) {
		require.NoError(t, f.Value.Set(f.DefValue), f.Name)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)

	for _, sub := range cmd.Commands() {
		resetFlags(t, sub)
	}
}

// writeTestConfig writes an echo-provider config rooted in a temp dir.
func writeTestConfig(t *testing.T, extra string) (path, dataDir string) {
	t.Helper()
	dataDir = t.TempDir()
	path = filepath.Join(dataDir, "umile.json")
	body := `{
  "data_dir": "` + filepath.ToSlash(dataDir) + `",
  "pipeline": {"provider": "echo"},
  "logging": {"level": "error", "redaction": false},
  "pool": {"capacity": 2, "drain_timeout": 5},
  "flow": {"deadline": 5}` + extra + `
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path, dataDir
}
