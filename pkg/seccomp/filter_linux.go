// Package seccomp 提供屏蔽进程创建类系统调用所需的 seccomp 过滤器的
// 构建与编码功能。
// seccomp (secure computing mode) 是 Linux 内核提供的安全机制，
// 过滤器以 BPF (Berkeley Packet Filter) 虚拟机指令的形式在内核中执行，
// 在每次系统调用入口处决定放行或拒绝。
package seccomp

import (
	"encoding/binary"
	"syscall"
	"unsafe"
)

// Filter 是 BPF 格式的 seccomp 过滤器。
// 每个 SockFilter 结构体表示一条 BPF 指令，包含：
// - Code: 操作码，定义指令的行为（加载、跳转、返回等）
// - Jt/Jf: 条件为真/假时向前跳过的指令数
// - K: 立即数或内存偏移
//
// 过滤器一经构建便不再修改，每次安装尝试只构建一次。
type Filter []syscall.SockFilter

// instructionSize 是内核 struct sock_filter 的字节大小
const instructionSize = 8

// Marshal 将过滤器编码为内核期望的原始字节布局。
// 每条指令占 8 字节，按本机字节序排列为：
//
//	opcode(2) | jt(1) | jf(1) | k(4)
//
// 内核接口以固定的 C 结构体布局定义，这里显式手工打包，
// 避免任何隐式填充或字段重排破坏程序。
// 纯转换，除分配缓冲区外没有副作用。
func (f Filter) Marshal() []byte {
	buf := make([]byte, 0, len(f)*instructionSize)
	for _, ins := range f {
		buf = binary.NativeEndian.AppendUint16(buf, ins.Code)
		buf = append(buf, ins.Jt, ins.Jf)
		buf = binary.NativeEndian.AppendUint32(buf, ins.K)
	}
	return buf
}

// SockFprog 将 Marshal 产生的字节缓冲包装为内核可以理解的 sock_fprog 头：
// - Len: 过滤器程序的指令数量
// - Filter: 指向指令缓冲区第一条指令的指针
//
// 这个头在调用 seccomp(SECCOMP_SET_MODE_FILTER) 或
// prctl(PR_SET_SECCOMP, SECCOMP_MODE_FILTER) 时传给内核。
//
// 注意：buf 必须由同一过滤器的 Marshal 产生，并且在内核调用
// 返回之前保持存活（调用方使用 runtime.KeepAlive）。
func (f Filter) SockFprog(buf []byte) *syscall.SockFprog {
	return &syscall.SockFprog{
		Len:    uint16(len(f)),
		Filter: (*syscall.SockFilter)(unsafe.Pointer(&buf[0])),
	}
}
