package gecho

// Interest 描述符当前订阅的方向，错误和挂断总是会订阅
type Interest uint8

const (
	AwaitingReadable Interest = iota // 等待可读
	AwaitingWritable                 // 等待可写
)

func (i Interest) String() string {
	switch i {
	case AwaitingReadable:
		return "readable"
	case AwaitingWritable:
		return "writable"
	}
	return "unknown"
}

// Flags 就绪事件标志位
type Flags uint8

const (
	FlagReadable Flags = 1 << iota // 可读
	FlagWritable                   // 可写
	FlagError                      // 出错
	FlagHangup                     // 挂断
)

// Event 一次wait返回的就绪事件
type Event struct {
	FD    int   // 文件描述符
	Flags Flags // 事件标志位
}
