package guard

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zqzqsb/execguard/pkg/seccomp"
)

// install 在 Linux 上安装 seccomp BPF 过滤器，屏蔽 fork/exec 族系统调用。
// tmpDir 仅在 macOS 上使用，这里忽略。
func install(tmpDir string) error {
	_ = tmpDir
	g := &linuxInstaller{abi: hostABI(), goarch: runtime.GOARCH}
	return g.install()
}

// Probe 以非破坏方式查询当前内核能否安装过滤器，不改变任何进程状态。
// 返回的 error 在 Support 不是 Supported 时携带阶段与错误码细节。
func Probe() (Support, error) {
	g := &linuxInstaller{abi: hostABI(), goarch: runtime.GOARCH}
	return g.supported()
}

// linuxInstaller 持有一次安装尝试所需的全部输入。
// 字段显式可注入，测试时替换为伪造值。
type linuxInstaller struct {
	abi    *kernelABI
	goarch string
}

// gate 执行架构与桥接两道门禁。
// 安全特性常被向后移植到旧内核，检查内核版本号是大忌，
// 后续全部以探测实际行为为准。
func (g *linuxInstaller) gate() error {
	// 过滤器的调用号表与架构标识检查只对 x86_64 正确，
	// 扩展到其他架构需要各自独立的调用号表
	if g.goarch != "amd64" {
		return fmt.Errorf("%w: %q", ErrUnsupportedArch, g.goarch)
	}
	if g.abi == nil {
		return fmt.Errorf("%w: could not link kernel entry points", ErrBridgeUnavailable)
	}
	return nil
}

// probe 依次探测内核的三项能力，任何一步失败都带着阶段与
// 原始错误码返回。
func (g *linuxInstaller) probe() error {
	// 内核 3.5 之前没有 no_new_privs，缺失说明内核过旧
	if _, errno := g.abi.prctl(unix.PR_GET_NO_NEW_PRIVS, 0, 0, 0, 0); errno != 0 {
		switch errno {
		case unix.ENOSYS:
			return stageErr(StageProbeNoNewPrivs, errno, ErrKernelTooOld)
		default:
			return stageErr(StageProbeNoNewPrivs, errno, nil)
		}
	}
	// CONFIG_SECCOMP 未编译时 PR_GET_SECCOMP 返回 EINVAL
	if _, errno := g.abi.prctl(unix.PR_GET_SECCOMP, 0, 0, 0, 0); errno != 0 {
		switch errno {
		case unix.EINVAL:
			return stageErr(StageProbeSeccomp, errno, ErrNotCompiled)
		default:
			return stageErr(StageProbeSeccomp, errno, nil)
		}
	}
	// 用空指针探测 filter 模式：EFAULT 恰恰说明 filter 模式可用
	// （内核走到了解析程序指针那一步），EINVAL 说明
	// CONFIG_SECCOMP_FILTER 未编译。这是历史沿袭的探测手法。
	if _, errno := g.abi.prctl(unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER, 0, 0, 0); errno != 0 {
		switch errno {
		case unix.EFAULT:
			// filter 模式可用
		case unix.EINVAL:
			return stageErr(StageProbeFilterMode, errno, ErrNotCompiled)
		default:
			return stageErr(StageProbeFilterMode, errno, nil)
		}
	}
	return nil
}

// supported 将门禁与探测的结论归类为 Support。
func (g *linuxInstaller) supported() (Support, error) {
	err := g.gate()
	if err == nil {
		err = g.probe()
	}
	switch {
	case err == nil:
		return Supported, nil
	case errors.Is(err, ErrUnsupportedArch):
		return SupportUnsupportedArch, err
	case errors.Is(err, ErrBridgeUnavailable):
		return SupportBridgeUnavailable, err
	case errors.Is(err, ErrKernelTooOld):
		return SupportKernelTooOld, err
	case errors.Is(err, ErrNotCompiled):
		return SupportNotCompiled, err
	}
	return SupportUnknownError, err
}

// install 执行完整的安装状态机：
// 门禁 → 探测 → 提交 no_new_privs → 构建并安装过滤器 → 复查。
func (g *linuxInstaller) install() error {
	if err := g.gate(); err != nil {
		return err
	}
	if err := g.probe(); err != nil {
		return err
	}

	// 设置 no_new_privs。非特权进程安装过滤器的前提，且不可逆。
	if _, errno := g.abi.prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); errno != 0 {
		return stageErr(StageSetNoNewPrivs, errno, nil)
	}

	filter, err := seccomp.ExecDenyFilter()
	if err != nil {
		return fmt.Errorf("execguard: assemble filter: %w", err)
	}
	buf := filter.Marshal()
	prog := filter.SockFprog(buf)

	// 安装过滤器。从这里开始没有回头路。
	// 优先 seccomp(2)：TSYNC 使过滤器同步作用于进程内全部既有线程；
	// 任何失败都回退到 prctl(2)，后者只保护调用线程——这是已知且
	// 接受的较弱保证，不做静默升级。两个入口都失败时保留双方的
	// 错误码用于诊断。
	if _, errno1 := g.abi.seccomp(unix.SECCOMP_SET_MODE_FILTER, unix.SECCOMP_FILTER_FLAG_TSYNC, unsafe.Pointer(prog)); errno1 != 0 {
		if _, errno2 := g.abi.prctl(unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER, uintptr(unsafe.Pointer(prog)), 0, 0); errno2 != 0 {
			return fmt.Errorf("execguard: install filter: seccomp(SECCOMP_SET_MODE_FILTER): %s (errno %d), prctl(PR_SET_SECCOMP): %s (errno %d)",
				errno1.Error(), int(errno1), errno2.Error(), int(errno2))
		}
	}
	runtime.KeepAlive(buf)

	// 复查过滤器确实装上了：必须严格处于 filter 模式
	mode, errno := g.abi.prctl(unix.PR_GET_SECCOMP, 0, 0, 0, 0)
	if errno != 0 || mode != unix.SECCOMP_MODE_FILTER {
		return stageErr(StageVerify, errno, ErrVerificationFailed)
	}
	return nil
}
