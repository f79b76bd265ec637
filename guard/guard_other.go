//go:build !linux && !darwin

package guard

import (
	"fmt"
	"runtime"
)

// install 在不受支持的平台上直接失败，不发起任何原生调用。
func install(tmpDir string) error {
	_ = tmpDir
	return fmt.Errorf("%w: %q", ErrUnsupportedPlatform, runtime.GOOS)
}
