package seccomp

import (
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// 被屏蔽的系统调用号。调用号表随架构变化，下列值仅对 x86_64 正确：
//
//	57  fork
//	58  vfork
//	59  execve
//	322 execveat (Linux 3.19 起)
//
// fork/vfork/execve 连续落在 [nrFork, nrExecve] 区间内，
// execveat 位于区间之外，需要在区间判断之前单独处理。
const (
	nrFork     = 57
	nrExecve   = 59
	nrExecveat = 322
)

// struct seccomp_data 中供过滤器读取的字段偏移
const (
	seccompDataNrOffset   = 0 // 系统调用号
	seccompDataArchOffset = 4 // 架构标识
)

// ExecDenyFilter 构建固定的 8 条指令过滤程序，用于屏蔽进程创建与替换：
//
//  1. 读取架构标识并与 AUDIT_ARCH_X86_64 比对。标识由内核在求值时提供，
//     安装方无法跨内核版本可靠地自行判断架构，因此不匹配时一律拒绝。
//  2. 读取系统调用号：低于 fork → 放行；等于 execveat → 拒绝；
//     高于 execve（且不是 execveat）→ 放行；落在 [fork, execve] → 拒绝。
//
// 命中时返回 EACCES（权限拒绝），其余调用全部放行。
func ExecDenyFilter() (Filter, error) {
	deny := kernelReturn(ActionErrno.WithReturnCode(uint16(unix.EACCES)))
	allow := kernelReturn(ActionAllow)

	insns := []bpf.Instruction{
		bpf.LoadAbsolute{Off: seccompDataArchOffset, Size: 4},
		// 架构不匹配时调用号表不可信，跳到拒绝分支
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.AUDIT_ARCH_X86_64, SkipFalse: 4},
		bpf.LoadAbsolute{Off: seccompDataNrOffset, Size: 4},
		// 低于被屏蔽区间 → 放行
		bpf.JumpIf{Cond: bpf.JumpGreaterOrEqual, Val: nrFork, SkipFalse: 3},
		// execveat 在区间之外，先单独拒绝
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: nrExecveat, SkipTrue: 1},
		// 高于 execve 且不是 execveat → 放行
		bpf.JumpIf{Cond: bpf.JumpGreaterThan, Val: nrExecve, SkipTrue: 1},
		bpf.RetConstant{Val: deny},
		bpf.RetConstant{Val: allow},
	}
	return ExportBPF(insns)
}

// kernelReturn 将抽象动作转换为内核 seccomp 的返回字。
// ActionErrno 的返回码保存在 SECCOMP_RET_DATA（低 16 位）中。
func kernelReturn(a Action) uint32 {
	switch a.Action() {
	case ActionAllow:
		return unix.SECCOMP_RET_ALLOW
	case ActionErrno:
		return unix.SECCOMP_RET_ERRNO | (uint32(a.ReturnCode()) & unix.SECCOMP_RET_DATA)
	default:
		return unix.SECCOMP_RET_KILL
	}
}
