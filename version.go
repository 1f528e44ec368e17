package fpgpu

import (
	"fmt"
	"runtime/debug"
)

const root = "github.com/aesadde/fpgpu"

// Version returns the version of this module and its checksum as recorded
// in the build info of the running binary. Both are "unknown" when the
// binary was built outside module mode.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown", "unknown"
	}
	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Replace.Version, m.Replace.Sum
			}
		}
		return m.Version, m.Sum
	}
	return "unknown", "unknown"
}
