// Package guard 在进程范围内永久剥夺创建或替换进程的能力，
// 用于收窄长驻服务被远程代码执行漏洞利用后的破坏半径。
//
// 仅支持 Linux 与 macOS 两种平台：
//   - Linux（仅 x86_64，内核 3.5+，需编译 CONFIG_SECCOMP 与
//     CONFIG_SECCOMP_FILTER）：通过 seccomp(2)（3.17+，TSYNC 同步作用于
//     进程内全部既有线程）或回退到 prctl(2)（仅保护调用线程）安装 BPF
//     过滤器，使 fork/vfork/execve/execveat 返回 EACCES。
//   - macOS（Leopard 起）：通过 sandbox_init(3)（Seatbelt）安装命名策略，
//     拒绝 process-fork 与 process-exec。
//
// 这不是沙箱，只是多一层防护：除进程创建与替换之外不限制任何行为。
// 安装一经成功便不可逆，进程的整个生命周期内无法撤销。
package guard

import "sync/atomic"

// installed 保证本进程只发起一次安装。
// 即使首次尝试失败也不允许重试：失败后的内核状态无法确知，
// 与其假装可以重来，不如让调用方快速失败。
var installed atomic.Bool

// Install 尝试剥夺本进程创建或替换进程的能力。
// 应当在启动早期、任何可能派生子进程的代码运行之前调用，且只调用一次。
//
// tmpDir 是一个可写的临时目录，macOS 上用于存放瞬态策略文件
// （安装结束后即删除），Linux 上忽略。
//
// 返回 nil 表示限制已生效并通过复查；任何非 nil 错误都应被调用方
// 视为继续安全运行的致命障碍。重复调用返回 ErrAlreadyInstalled。
func Install(tmpDir string) error {
	if !installed.CompareAndSwap(false, true) {
		return ErrAlreadyInstalled
	}
	return install(tmpDir)
}
