package guard

import (
	"fmt"
	"os"
)

// Seatbelt 策略文本：默认全部放行，仅拒绝进程创建与替换
const sandboxRules = "(version 1) (allow default) (deny process-fork) (deny process-exec)"

// sandboxNamed 是 sandbox_init(3) 唯一受支持的标志
const sandboxNamed = 0x1

// install 在 macOS 上通过 sandbox_init(3)（Seatbelt）安装命名策略。
// 策略经由 tmpDir 下的瞬态文件按路径传给系统，安装结束后删除。
func install(tmpDir string) error {
	g := &darwinInstaller{profile: sandboxRules}
	return g.install(tmpDir)
}

// darwinInstaller 持有一次安装尝试所需的输入。
// 字段显式可注入：测试用畸形策略文本驱动失败路径。
type darwinInstaller struct {
	bridge  *sandboxBridge
	profile string
}

func (g *darwinInstaller) install(tmpDir string) (err error) {
	if g.bridge == nil {
		b, berr := loadSandboxBridge()
		if berr != nil {
			return berr
		}
		g.bridge = b
	}

	// 将策略写入唯一命名的临时文件，路径随后传给 sandbox_init
	f, err := os.CreateTemp(tmpDir, "execguard-*.sb")
	if err != nil {
		return fmt.Errorf("execguard: write profile: %w", err)
	}
	rules := f.Name()

	// 清理不变式：无论成败，策略文件都不得留在磁盘上。
	// 失败路径上尽力删除并吞掉二次错误，绝不掩盖原始失败。
	defer func() {
		rmErr := os.Remove(rules)
		if err == nil {
			err = rmErr
		}
	}()

	if _, werr := f.WriteString(g.profile + "\n"); werr != nil {
		f.Close()
		return fmt.Errorf("execguard: write profile: %w", werr)
	}
	if cerr := f.Close(); cerr != nil {
		return fmt.Errorf("execguard: write profile: %w", cerr)
	}

	// 非零返回时系统通过出参缓冲区给出诊断文本（如策略语法错误）
	if ret, diag := g.bridge.sandboxInit(rules, sandboxNamed); ret != 0 {
		return fmt.Errorf("%w: sandbox_init(): %s", ErrPolicyRejected, diag)
	}
	return nil
}
