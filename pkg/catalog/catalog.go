// Package catalog embeds descriptions for a handful of common tags.
package catalog

import (
	"embed"
	"sync"

	"github.com/twinfer/tre-plugin/pkg/tre"
)

//go:embed tres/*.yaml
var files embed.FS

// Register adds every embedded description to reg.
func Register(reg *tre.Registry) error {
	return reg.LoadFS(files, "tres")
}

var (
	defaultRegistry *tre.Registry
	defaultOnce     sync.Once
)

// Default returns a frozen registry holding the embedded descriptions. It
// panics if they fail to build.
func Default() *tre.Registry {
	defaultOnce.Do(func() {
		r := tre.NewRegistry()
		if err := Register(r); err != nil {
			panic("catalog: " + err.Error())
		}
		r.Freeze()
		defaultRegistry = r
	})
	return defaultRegistry
}
