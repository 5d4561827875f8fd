package testutils

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var update bool

func init() {
	flag.BoolVar(&update, "update", false, "update golden files")
}

// GoldenPath returns the golden path for the current test.
func GoldenPath(t *testing.T) string {
	t.Helper()

	path := filepath.Join("testdata", "golden")
	path = filepath.Join(path, t.Name())

	return path
}

// LoadWithUpdateFromGoldenYAML loads the element from a YAML serialized golden
// file in testdata/golden. It will update the file if the update flag is used
// prior to deserializing it.
func LoadWithUpdateFromGoldenYAML[E any](t *testing.T, got E) E {
	t.Helper()

	goldPath := GoldenPath(t)

	if update {
		t.Logf("updating golden file %s", goldPath)
		require.NoError(t, os.MkdirAll(filepath.Dir(goldPath), 0750), "Cannot create directory for updating golden files")

		data, err := yaml.Marshal(got)
		require.NoError(t, err, "Cannot marshal object to YAML")
		require.NoError(t, os.WriteFile(goldPath, data, 0600), "Cannot write golden file")
	}

	data, err := os.ReadFile(goldPath)
	require.NoError(t, err, "Cannot load golden file")

	var want E
	require.NoError(t, yaml.Unmarshal(data, &want), "Cannot create object from golden file")

	return want
}
