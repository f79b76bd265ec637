package seccomp

import (
	"syscall"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/net/bpf"
)

// Builder 以系统调用名称描述屏蔽策略。
// 名称由 go-seccomp-bpf 解析为当前架构的调用号，
// 适用于想要自定义屏蔽列表而不想手写调用号表的调用方。
type Builder struct {
	Deny    []string // 需要屏蔽的系统调用名称列表
	Default Action   // 其余系统调用的默认动作
}

// Build 构建过滤器。
// 过程：
// 1. 将名称列表转换为 go-seccomp-bpf 策略
// 2. 编译为 BPF 指令序列
// 3. 汇编为内核可读格式
func (b *Builder) Build() (Filter, error) {
	policy := libseccomp.Policy{
		DefaultAction: ToSeccompAction(b.Default),
		Syscalls: []libseccomp.SyscallGroup{
			{
				Action: libseccomp.ActionErrno,
				Names:  b.Deny,
			},
		},
	}

	program, err := policy.Assemble()
	if err != nil {
		return nil, err
	}
	return ExportBPF(program)
}

// ExportBPF 将抽象 BPF 指令序列汇编为内核可读的过滤器。
// 条件跳转的 SkipTrue/SkipFalse 在这一步被解析为原始指令的 Jt/Jf 偏移。
func ExportBPF(insns []bpf.Instruction) (Filter, error) {
	raw, err := bpf.Assemble(insns)
	if err != nil {
		return nil, err
	}
	return sockFilter(raw), nil
}

// sockFilter 将原始 BPF 指令转换为内核使用的 SockFilter 格式
func sockFilter(raw []bpf.RawInstruction) []syscall.SockFilter {
	filter := make([]syscall.SockFilter, 0, len(raw))
	for _, instruction := range raw {
		filter = append(filter, syscall.SockFilter{
			Code: instruction.Op,
			Jt:   instruction.Jt,
			Jf:   instruction.Jf,
			K:    instruction.K,
		})
	}
	return filter
}

// ToSeccompAction 将本包的 Action 类型转换为 go-seccomp-bpf 的动作类型
//
// 转换对应关系：
//   - ActionAllow -> libseccomp.ActionAllow
//   - ActionErrno -> libseccomp.ActionErrno
//   - 其他        -> libseccomp.ActionKillProcess
func ToSeccompAction(a Action) libseccomp.Action {
	switch a.Action() {
	case ActionAllow:
		return libseccomp.ActionAllow
	case ActionErrno:
		return libseccomp.ActionErrno
	default:
		return libseccomp.ActionKillProcess
	}
}
