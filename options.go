package gecho

const (
	defaultReadBufferLen = 1024 // 回显缓存区大小
	defaultMaxEvents     = 256  // 每次wait最多返回的事件数
	defaultBacklog       = 2048 // 监听队列长度
)

// options worker以及监听socket的初始化参数
type options struct {
	readBufferLen int // 每次可读事件最多读取的字节数，默认值是1024字节
	maxEvents     int // 单次wait返回的最大事件数，默认值是256
	acceptBatch   int // 每次监听socket可读时最多accept的连接数，0代表一直accept到EAGAIN
	backlog       int // listen的backlog，会被内核somaxconn截断
}

type Option interface {
	apply(*options)
}

type funcServerOption struct {
	f func(*options)
}

func (fdo *funcServerOption) apply(do *options) {
	fdo.f(do)
}

func newFuncServerOption(f func(*options)) *funcServerOption {
	return &funcServerOption{
		f: f,
	}
}

// WithReadBufferLen 设置缓存区大小
func WithReadBufferLen(len int) Option {
	return newFuncServerOption(func(o *options) {
		if len <= 0 {
			panic("readBufferLen must greater than 0")
		}
		o.readBufferLen = len
	})
}

// WithMaxEvents 设置单次wait返回的最大事件数
func WithMaxEvents(num int) Option {
	return newFuncServerOption(func(o *options) {
		if num <= 0 {
			panic("maxEvents must greater than 0")
		}
		o.maxEvents = num
	})
}

// WithAcceptBatch 设置每次监听socket可读时最多accept的连接数
// num为0(默认)时一直accept到EAGAIN为止：监听socket是边缘触发且从不重新注册，
// 每次通知只accept一个的话，排在后面的连接要等到下一个新连接到来才会被处理。
// num为1时恢复每次通知只accept一个连接的行为
func WithAcceptBatch(num int) Option {
	return newFuncServerOption(func(o *options) {
		if num < 0 {
			panic("acceptBatch must not less than 0")
		}
		o.acceptBatch = num
	})
}

// WithBacklog 设置listen的backlog
func WithBacklog(num int) Option {
	return newFuncServerOption(func(o *options) {
		if num <= 0 {
			panic("backlog must greater than 0")
		}
		o.backlog = num
	})
}

func getOptions(opts ...Option) *options {
	options := &options{
		readBufferLen: defaultReadBufferLen,
		maxEvents:     defaultMaxEvents,
		backlog:       defaultBacklog,
	}

	for _, o := range opts {
		o.apply(options)
	}
	return options
}
