package gecho

import (
	"flag"
	"fmt"
	"io"
)

// Config 服务配置，Port和Workers必须通过命令行给出
type Config struct {
	Port          int // 监听端口，1-65535
	Workers       int // worker进程数量
	ReadBufferLen int // 每次读取的最大字节数
	MaxEvents     int // 单次wait返回的最大事件数
	AcceptBatch   int // 每次监听socket可读时最多accept的连接数，0代表直到EAGAIN
}

// Options 转换为worker参数
func (c Config) Options() []Option {
	var opts []Option
	if c.ReadBufferLen > 0 {
		opts = append(opts, WithReadBufferLen(c.ReadBufferLen))
	}
	if c.MaxEvents > 0 {
		opts = append(opts, WithMaxEvents(c.MaxEvents))
	}
	if c.AcceptBatch > 0 {
		opts = append(opts, WithAcceptBatch(c.AcceptBatch))
	}
	return opts
}

// Usage 返回用法说明
func Usage(name string) string {
	return fmt.Sprintf("usage: %s -p <server listening port> -n <number of worker processes> "+
		"[-b <read buffer length>] [-e <max events per wait>] [-a <accepts per notification>]", name)
}

// ParseArgs 解析命令行参数，args不包含程序名
// 参数缺失或者无法解析时返回的错误包装了ErrUsage
func ParseArgs(name string, args []string) (Config, error) {
	config := Config{
		ReadBufferLen: defaultReadBufferLen,
		MaxEvents:     defaultMaxEvents,
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&config.Port, "p", 0, "server listening port")
	fs.IntVar(&config.Workers, "n", 0, "number of worker processes")
	fs.IntVar(&config.ReadBufferLen, "b", defaultReadBufferLen, "read buffer length")
	fs.IntVar(&config.MaxEvents, "e", defaultMaxEvents, "max events per wait")
	fs.IntVar(&config.AcceptBatch, "a", 0, "accepts per listener notification, 0 until would-block")

	err := fs.Parse(args)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("%w: unexpected argument %q", ErrUsage, fs.Arg(0))
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if !set["p"] || !set["n"] {
		return Config{}, fmt.Errorf("%w: -p and -n are required", ErrUsage)
	}

	if config.Port < 1 || config.Port > 65535 {
		return Config{}, fmt.Errorf("%w: invalid port %d", ErrUsage, config.Port)
	}
	if config.Workers <= 0 {
		return Config{}, fmt.Errorf("%w: invalid number of worker processes %d", ErrUsage, config.Workers)
	}
	if config.ReadBufferLen <= 0 {
		return Config{}, fmt.Errorf("%w: invalid read buffer length %d", ErrUsage, config.ReadBufferLen)
	}
	if config.MaxEvents <= 0 {
		return Config{}, fmt.Errorf("%w: invalid max events %d", ErrUsage, config.MaxEvents)
	}
	if config.AcceptBatch < 0 {
		return Config{}, fmt.Errorf("%w: invalid accept batch %d", ErrUsage, config.AcceptBatch)
	}
	return config, nil
}
