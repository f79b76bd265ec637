package guard

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// libSystem 汇集了 macOS 的 libc 与系统服务，
// sandbox_init(3) 自 Leopard 起由它导出。
const libSystemPath = "/usr/lib/libSystem.B.dylib"

// sandboxBridge 持有 Seatbelt 入口的符号地址。
// 作为显式能力值传入安装流程，而不是藏在包级全局变量里。
type sandboxBridge struct {
	initFn      uintptr // sandbox_init(3)
	freeErrorFn uintptr // sandbox_free_error(3)
}

// loadSandboxBridge 建立到系统沙箱库的桥接。
// 打不开库或找不到符号说明系统过旧（早于 Leopard）或环境异常。
func loadSandboxBridge() (*sandboxBridge, error) {
	lib, err := purego.Dlopen(libSystemPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBridgeUnavailable, err)
	}
	initFn, err := purego.Dlsym(lib, "sandbox_init")
	if err != nil {
		return nil, fmt.Errorf("%w: sandbox_init: %v", ErrBridgeUnavailable, err)
	}
	freeFn, err := purego.Dlsym(lib, "sandbox_free_error")
	if err != nil {
		return nil, fmt.Errorf("%w: sandbox_free_error: %v", ErrBridgeUnavailable, err)
	}
	return &sandboxBridge{initFn: initFn, freeErrorFn: freeFn}, nil
}

// sandboxInit 调用 sandbox_init(profilePath, flags, &errorbuf)。
// 返回非零时 errorbuf 指向系统在堆上分配的诊断文本（如策略语法错误），
// 这里读出文本后立即通过 sandbox_free_error 释放缓冲区，避免泄漏。
func (b *sandboxBridge) sandboxInit(profilePath string, flags uintptr) (int, string) {
	path := append([]byte(profilePath), 0)
	var errBuf uintptr
	r1, _, _ := purego.SyscallN(b.initFn,
		uintptr(unsafe.Pointer(&path[0])), flags, uintptr(unsafe.Pointer(&errBuf)))
	runtime.KeepAlive(path)
	if int32(r1) == 0 {
		return 0, ""
	}
	diag := goString(errBuf)
	if errBuf != 0 {
		purego.SyscallN(b.freeErrorFn, errBuf)
	}
	return int(int32(r1)), diag
}

// goString 读取系统返回的以 NUL 结尾的 C 字符串。
// p 指向的是系统库分配的内存，不受 Go 垃圾回收管理。
func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	n := uintptr(0)
	for *(*byte)(unsafe.Pointer(p + n)) != 0 {
		n++
	}
	if n == 0 {
		return ""
	}
	buf := make([]byte, n)
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
	return string(buf)
}
