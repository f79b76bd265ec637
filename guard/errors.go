package guard

import (
	"errors"
	"fmt"
	"syscall"
)

// 终止失败原因的哨兵错误。所有失败对本包而言都不可恢复：
// 无法证明限制已经生效时，绝不默默地当作已生效继续运行。
// 调用方可用 errors.Is 匹配分类，决定是中止启动还是降级运行。
var (
	// ErrUnsupportedPlatform 当前操作系统既不是 Linux 也不是 macOS
	ErrUnsupportedPlatform = errors.New("execguard: syscall filtering not supported on this platform")
	// ErrUnsupportedArch 过滤器的调用号表只对 x86_64 正确
	ErrUnsupportedArch = errors.New("execguard: unsupported architecture")
	// ErrBridgeUnavailable 无法建立到内核/系统库入口的桥接
	ErrBridgeUnavailable = errors.New("execguard: native bridge unavailable")
	// ErrKernelTooOld 内核早于 3.5，没有 no_new_privs 支持
	ErrKernelTooOld = errors.New("execguard: requires kernel 3.5+ with CONFIG_SECCOMP and CONFIG_SECCOMP_FILTER")
	// ErrNotCompiled 内核没有编译进 CONFIG_SECCOMP / CONFIG_SECCOMP_FILTER
	ErrNotCompiled = errors.New("execguard: seccomp not compiled into kernel")
	// ErrVerificationFailed 安装后复查发现内核并未进入 filter 模式
	ErrVerificationFailed = errors.New("execguard: filter installation did not really succeed")
	// ErrPolicyRejected 系统拒绝了沙箱策略文本
	ErrPolicyRejected = errors.New("execguard: sandbox policy rejected")
	// ErrAlreadyInstalled 本进程已经调用过 Install
	ErrAlreadyInstalled = errors.New("execguard: already installed in this process")
)

// Stage 标识安装流程中失败发生的具体步骤
type Stage int

// Stage 常量按安装流程的先后顺序排列
const (
	StageArchCheck        Stage = iota + 1 // 架构门禁
	StageBridge                            // 建立内核/系统库桥接
	StageProbeNoNewPrivs                   // 探测 no_new_privs 支持
	StageProbeSeccomp                      // 探测 seccomp 支持
	StageProbeFilterMode                   // 探测 filter 模式支持
	StageSetNoNewPrivs                     // 不可逆地设置 no_new_privs
	StageInstallFilter                     // 安装过滤器
	StageVerify                            // 安装后复查 seccomp 模式
	StageWriteProfile                      // 写出沙箱策略文件
	StageSandboxInit                       // 调用系统沙箱初始化
)

var stageToString = []string{
	"unknown",
	"arch check",
	"link bridge",
	"prctl(PR_GET_NO_NEW_PRIVS)",
	"prctl(PR_GET_SECCOMP)",
	"prctl(PR_SET_SECCOMP)",
	"prctl(PR_SET_NO_NEW_PRIVS)",
	"install filter",
	"verify(PR_GET_SECCOMP)",
	"write profile",
	"sandbox_init()",
}

// String 将 Stage 转换为人类可读的名称
func (s Stage) String() string {
	if s >= StageArchCheck && s <= StageSandboxInit {
		return stageToString[s]
	}
	return stageToString[0]
}

// StageError 记录失败发生的阶段与原始系统错误码，
// 保证每个失败都带着足够精确的诊断信息向上传播，
// 而不是一条笼统的错误消息。
type StageError struct {
	Stage Stage         // 失败发生的阶段
	Errno syscall.Errno // 原始系统错误码（可为 0）
	Err   error         // 哨兵分类（可为 nil，表示未归类的未知错误）
}

func (e *StageError) Error() string {
	msg := e.Stage.String()
	if e.Errno != 0 {
		msg = fmt.Sprintf("%s: %s (errno %d)", msg, e.Errno.Error(), int(e.Errno))
	}
	if e.Err != nil {
		msg = e.Err.Error() + ": " + msg
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// stageErr 构造一个 StageError。sentinel 可为 nil。
func stageErr(stage Stage, errno syscall.Errno, sentinel error) error {
	return &StageError{Stage: stage, Errno: errno, Err: sentinel}
}

// Support 是内核能力探测的结论
type Support int

// 探测结论
const (
	SupportInvalid           Support = iota // 0 未初始化
	Supported                               // 1 支持安装过滤器
	SupportUnsupportedArch                  // 2 架构不受支持
	SupportBridgeUnavailable                // 3 桥接不可用
	SupportKernelTooOld                     // 4 内核过旧
	SupportNotCompiled                      // 5 内核未编译 seccomp
	SupportUnknownError                     // 6 未知错误
)

var supportString = []string{
	"invalid",
	"supported",
	"unsupported architecture",
	"bridge unavailable",
	"kernel too old",
	"seccomp not compiled",
	"unknown error",
}

func (s Support) String() string {
	i := int(s)
	if i >= 0 && i < len(supportString) {
		return supportString[i]
	}
	return supportString[0]
}
