package guard

import (
	"errors"
	"strings"
	"syscall"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

// fakeKernel 是脚本化的内核替身，按阶段返回预设错误码，
// 并记录调用轨迹，用于在不触碰内核的情况下驱动安装状态机。
type fakeKernel struct {
	noNewPrivsErrno syscall.Errno // PR_GET_NO_NEW_PRIVS 探测
	getSeccompErrno syscall.Errno // PR_GET_SECCOMP 探测
	probeSetErrno   syscall.Errno // PR_SET_SECCOMP 空指针探测
	setPrivsErrno   syscall.Errno // PR_SET_NO_NEW_PRIVS 提交
	seccompErrno    syscall.Errno // seccomp(2) 安装
	fallbackErrno   syscall.Errno // prctl(2) 回退安装

	forceVerifyMode *uintptr // 复查时强制返回的模式（默认按安装状态推导）

	installedVia string // "seccomp" 或 "prctl"
	seccompOp    uintptr
	seccompFlags uintptr
	calls        []string
}

// successfulFake 返回一套全部成功的脚本（空指针探测按内核惯例给 EFAULT）。
func successfulFake() *fakeKernel {
	return &fakeKernel{probeSetErrno: unix.EFAULT}
}

func (k *fakeKernel) abi() *kernelABI {
	return &kernelABI{
		prctl: func(option, a2, a3, a4, a5 uintptr) (uintptr, syscall.Errno) {
			switch option {
			case unix.PR_GET_NO_NEW_PRIVS:
				k.calls = append(k.calls, "PR_GET_NO_NEW_PRIVS")
				return 0, k.noNewPrivsErrno
			case unix.PR_GET_SECCOMP:
				k.calls = append(k.calls, "PR_GET_SECCOMP")
				if k.forceVerifyMode != nil {
					return *k.forceVerifyMode, 0
				}
				if k.installedVia != "" {
					return unix.SECCOMP_MODE_FILTER, 0
				}
				return 0, k.getSeccompErrno
			case unix.PR_SET_SECCOMP:
				if a3 == 0 {
					k.calls = append(k.calls, "PR_SET_SECCOMP(probe)")
					return 0, k.probeSetErrno
				}
				k.calls = append(k.calls, "PR_SET_SECCOMP(install)")
				if k.fallbackErrno == 0 {
					k.installedVia = "prctl"
				}
				return 0, k.fallbackErrno
			case unix.PR_SET_NO_NEW_PRIVS:
				k.calls = append(k.calls, "PR_SET_NO_NEW_PRIVS")
				return 0, k.setPrivsErrno
			}
			return 0, unix.EINVAL
		},
		seccomp: func(op, flags uintptr, prog unsafe.Pointer) (uintptr, syscall.Errno) {
			k.calls = append(k.calls, "seccomp")
			k.seccompOp = op
			k.seccompFlags = flags
			if prog == nil {
				return 0, unix.EFAULT
			}
			if k.seccompErrno == 0 {
				k.installedVia = "seccomp"
			}
			return 0, k.seccompErrno
		},
	}
}

func (k *fakeKernel) installer() *linuxInstaller {
	return &linuxInstaller{abi: k.abi(), goarch: "amd64"}
}

func TestInstallArchGate(t *testing.T) {
	k := successfulFake()
	g := &linuxInstaller{abi: k.abi(), goarch: "arm64"}

	err := g.install()
	if !errors.Is(err, ErrUnsupportedArch) {
		t.Fatalf("install() = %v, want ErrUnsupportedArch", err)
	}
	if !strings.Contains(err.Error(), "arm64") {
		t.Errorf("error %q does not name the architecture", err)
	}
	// 门禁失败后不允许发起任何内核调用
	if len(k.calls) != 0 {
		t.Errorf("kernel calls after arch gate: %v", k.calls)
	}
}

func TestInstallBridgeGate(t *testing.T) {
	g := &linuxInstaller{abi: nil, goarch: "amd64"}
	if err := g.install(); !errors.Is(err, ErrBridgeUnavailable) {
		t.Fatalf("install() = %v, want ErrBridgeUnavailable", err)
	}
}

func TestProbeFailures(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*fakeKernel)
		wantIs    error
		wantStage Stage
		wantErrno syscall.Errno
	}{
		{
			name:      "no_new_privs missing means old kernel",
			mutate:    func(k *fakeKernel) { k.noNewPrivsErrno = unix.ENOSYS },
			wantIs:    ErrKernelTooOld,
			wantStage: StageProbeNoNewPrivs,
			wantErrno: unix.ENOSYS,
		},
		{
			name:      "no_new_privs unexpected errno",
			mutate:    func(k *fakeKernel) { k.noNewPrivsErrno = unix.EPERM },
			wantIs:    nil,
			wantStage: StageProbeNoNewPrivs,
			wantErrno: unix.EPERM,
		},
		{
			name:      "seccomp not compiled",
			mutate:    func(k *fakeKernel) { k.getSeccompErrno = unix.EINVAL },
			wantIs:    ErrNotCompiled,
			wantStage: StageProbeSeccomp,
			wantErrno: unix.EINVAL,
		},
		{
			name:      "filter mode not compiled",
			mutate:    func(k *fakeKernel) { k.probeSetErrno = unix.EINVAL },
			wantIs:    ErrNotCompiled,
			wantStage: StageProbeFilterMode,
			wantErrno: unix.EINVAL,
		},
		{
			name:      "filter mode unexpected errno",
			mutate:    func(k *fakeKernel) { k.probeSetErrno = unix.EACCES },
			wantIs:    nil,
			wantStage: StageProbeFilterMode,
			wantErrno: unix.EACCES,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := successfulFake()
			tt.mutate(k)

			err := k.installer().install()
			if err == nil {
				t.Fatal("install() succeeded, want probe failure")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("install() = %v, want %v", err, tt.wantIs)
			}
			var se *StageError
			if !errors.As(err, &se) {
				t.Fatalf("install() = %v, want *StageError", err)
			}
			if se.Stage != tt.wantStage {
				t.Errorf("Stage = %v, want %v", se.Stage, tt.wantStage)
			}
			if se.Errno != tt.wantErrno {
				t.Errorf("Errno = %v, want %v", se.Errno, tt.wantErrno)
			}
		})
	}
}

// 空指针探测返回 EFAULT 是 filter 模式可用的信号，安装应当继续并成功。
func TestInstallFilterModeProbeQuirk(t *testing.T) {
	k := successfulFake()
	if err := k.installer().install(); err != nil {
		t.Fatalf("install() = %v, want success", err)
	}
	if k.installedVia != "seccomp" {
		t.Errorf("installed via %q, want seccomp", k.installedVia)
	}
}

func TestInstallPrefersSeccompSyscall(t *testing.T) {
	k := successfulFake()
	if err := k.installer().install(); err != nil {
		t.Fatalf("install() = %v", err)
	}
	if k.seccompOp != unix.SECCOMP_SET_MODE_FILTER {
		t.Errorf("seccomp op = %d, want SECCOMP_SET_MODE_FILTER", k.seccompOp)
	}
	// 必须携带 TSYNC，使过滤器同步作用于全部既有线程
	if k.seccompFlags != unix.SECCOMP_FILTER_FLAG_TSYNC {
		t.Errorf("seccomp flags = %d, want SECCOMP_FILTER_FLAG_TSYNC", k.seccompFlags)
	}
	for _, c := range k.calls {
		if c == "PR_SET_SECCOMP(install)" {
			t.Error("prctl fallback used although seccomp(2) succeeded")
		}
	}
}

func TestInstallFallsBackToPrctl(t *testing.T) {
	k := successfulFake()
	k.seccompErrno = unix.ENOSYS

	if err := k.installer().install(); err != nil {
		t.Fatalf("install() = %v, want fallback success", err)
	}
	if k.installedVia != "prctl" {
		t.Errorf("installed via %q, want prctl", k.installedVia)
	}
}

func TestInstallBothEntryPointsFail(t *testing.T) {
	k := successfulFake()
	k.seccompErrno = unix.ENOSYS
	k.fallbackErrno = unix.EACCES

	err := k.installer().install()
	if err == nil {
		t.Fatal("install() succeeded, want failure")
	}
	// 两个入口的错误码都要保留在诊断里
	msg := err.Error()
	for _, want := range []string{"seccomp(SECCOMP_SET_MODE_FILTER)", "prctl(PR_SET_SECCOMP)", "errno 38", "errno 13"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestInstallSetNoNewPrivsFatal(t *testing.T) {
	k := successfulFake()
	k.setPrivsErrno = unix.EPERM

	err := k.installer().install()
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("install() = %v, want *StageError", err)
	}
	if se.Stage != StageSetNoNewPrivs || se.Errno != unix.EPERM {
		t.Errorf("StageError = {%v, %v}, want {StageSetNoNewPrivs, EPERM}", se.Stage, se.Errno)
	}
}

func TestInstallVerificationFailed(t *testing.T) {
	k := successfulFake()
	disabled := uintptr(0)
	k.forceVerifyMode = &disabled

	if err := k.installer().install(); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("install() = %v, want ErrVerificationFailed", err)
	}
}

func TestSupportedClassification(t *testing.T) {
	tests := []struct {
		name   string
		goarch string
		mutate func(*fakeKernel)
		want   Support
	}{
		{"supported", "amd64", func(k *fakeKernel) {}, Supported},
		{"wrong arch", "riscv64", func(k *fakeKernel) {}, SupportUnsupportedArch},
		{"old kernel", "amd64", func(k *fakeKernel) { k.noNewPrivsErrno = unix.ENOSYS }, SupportKernelTooOld},
		{"not compiled", "amd64", func(k *fakeKernel) { k.getSeccompErrno = unix.EINVAL }, SupportNotCompiled},
		{"unknown errno", "amd64", func(k *fakeKernel) { k.noNewPrivsErrno = unix.EPERM }, SupportUnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := successfulFake()
			tt.mutate(k)
			g := &linuxInstaller{abi: k.abi(), goarch: tt.goarch}

			sup, err := g.supported()
			if sup != tt.want {
				t.Errorf("supported() = %v, want %v", sup, tt.want)
			}
			if (sup == Supported) != (err == nil) {
				t.Errorf("supported() error = %v, inconsistent with %v", err, sup)
			}
		})
	}
}

func TestSupportedBridgeUnavailable(t *testing.T) {
	g := &linuxInstaller{abi: nil, goarch: "amd64"}
	if sup, _ := g.supported(); sup != SupportBridgeUnavailable {
		t.Fatalf("supported() = %v, want SupportBridgeUnavailable", sup)
	}
}

// Probe 面向真实内核，非破坏性，可以在测试进程内直接调用。
func TestProbeHost(t *testing.T) {
	sup, err := Probe()
	if (sup == Supported) != (err == nil) {
		t.Fatalf("Probe() = %v with error %v", sup, err)
	}
	t.Logf("host probe: %v", sup)
}
