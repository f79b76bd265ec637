package guard

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// kernelABI 是对内核入口的显式能力封装。
// 安装流程通过它发起 prctl(2) 与 seccomp(2) 调用，而不是各处直接
// 触碰系统调用；测试可以注入伪造实现，在不触碰内核的情况下
// 验证整个安装状态机。
//
// 两个入口都遵循原始系统调用约定：返回值加 errno，
// errno 为 0 表示成功。
type kernelABI struct {
	prctl   func(option, arg2, arg3, arg4, arg5 uintptr) (uintptr, syscall.Errno)
	seccomp func(op, flags uintptr, prog unsafe.Pointer) (uintptr, syscall.Errno)
}

// hostABI 返回直连内核的 ABI。
// prctl 不会阻塞，使用 RawSyscall6 发起；
// seccomp(2) 使用 Syscall，TSYNC 的线程同步由内核完成。
func hostABI() *kernelABI {
	return &kernelABI{
		prctl: func(option, arg2, arg3, arg4, arg5 uintptr) (uintptr, syscall.Errno) {
			r1, _, errno := unix.RawSyscall6(unix.SYS_PRCTL, option, arg2, arg3, arg4, arg5, 0)
			return r1, errno
		},
		seccomp: func(op, flags uintptr, prog unsafe.Pointer) (uintptr, syscall.Errno) {
			r1, _, errno := unix.Syscall(unix.SYS_SECCOMP, op, flags, uintptr(prog))
			return r1, errno
		},
	}
}
