package testutils

import (
	"os"
	"path/filepath"
	"runtime"
)

// ModuleRoot returns the root directory of the module, found by walking up
// from this file until a go.mod is present. It panics if no go.mod is found.
func ModuleRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		panic("could not determine caller location")
	}

	dir := filepath.Dir(file)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			panic("could not find module root")
		}
		dir = parent
	}
}
