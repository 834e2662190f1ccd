package testutils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const updateGoldenEnv = "TESTS_UPDATE_GOLDEN"

type goldenOptions struct {
	path string
}

// GoldenOption is a supported option reference to change the golden files comparison.
type GoldenOption func(*goldenOptions)

// WithGoldenPath overrides the default path for golden files used.
func WithGoldenPath(path string) GoldenOption {
	return func(o *goldenOptions) {
		if path != "" {
			o.path = path
		}
	}
}

// GoldenPath returns the golden path for the provided test.
// Subtests are stored as nested directories under testdata/golden.
func GoldenPath(t *testing.T) string {
	t.Helper()

	path := filepath.Join("testdata", "golden")
	for _, part := range strings.Split(t.Name(), "/") {
		path = filepath.Join(path, normalizeName(part))
	}
	return path
}

// LoadWithUpdateFromGoldenYAML loads the YAML golden file of the current test into a value of type T.
//
// When TESTS_UPDATE_GOLDEN is set, got is serialized first and written as the new golden file.
func LoadWithUpdateFromGoldenYAML[T any](t *testing.T, got T, opts ...GoldenOption) T {
	t.Helper()

	o := goldenOptions{path: GoldenPath(t)}
	for _, opt := range opts {
		opt(&o)
	}

	if os.Getenv(updateGoldenEnv) != "" {
		data, err := yaml.Marshal(got)
		require.NoError(t, err, "Cannot serialize provided object")

		t.Logf("updating golden file %s", o.path)
		require.NoError(t, os.MkdirAll(filepath.Dir(o.path), 0750), "Cannot create directory for updating golden files")
		require.NoError(t, os.WriteFile(o.path, data, 0600), "Cannot write golden file")
	}

	data, err := os.ReadFile(o.path)
	require.NoError(t, err, "Cannot load golden file %s", o.path)

	var want T
	require.NoError(t, yaml.Unmarshal(data, &want), "Cannot deserialize golden file %s", o.path)
	return want
}

func normalizeName(name string) string {
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, ":", "_")
	return strings.ToLower(name)
}
