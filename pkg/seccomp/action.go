package seccomp

// Action 定义了过滤器对系统调用的处理动作
type Action uint32

// Action 常量定义
const (
	ActionInvalid Action = iota // 无效动作
	ActionAllow                 // 放行系统调用
	ActionErrno                 // 向调用方返回错误码
	ActionKill                  // 终止进程
)

// ReturnCode 获取动作附带的返回码（errno）
func (a Action) ReturnCode() uint16 {
	return uint16(a >> 16)
}

// WithReturnCode 设置动作附带的返回码（errno）
// 返回码保存在高 16 位，与内核 SECCOMP_RET_DATA 的语义对应
func (a Action) WithReturnCode(code uint16) Action {
	return a | Action(code)<<16
}

// Action 获取基本动作（不包含返回码）
func (a Action) Action() Action {
	return Action(a & 0xffff)
}
