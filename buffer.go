package gecho

import (
	"golang.org/x/sys/unix"
)

// Buffer 回显缓存区，每个worker一个，在事件循环的每次读写之间复用
type Buffer struct {
	buf []byte // 应用内缓存区
	end int    // 有效字节结束位置
}

// NewBuffer 创建一个缓存区
func NewBuffer(bytes []byte) *Buffer {
	return &Buffer{buf: bytes}
}

// Len 返回有效字节数组长度
func (b *Buffer) Len() int {
	return b.end
}

// Cap 返回总容量
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Bytes 返回有效字节，下一次读取之后失效
func (b *Buffer) Bytes() []byte {
	return b.buf[:b.end]
}

// ReadFromFD 从文件描述符里面读取一次数据，覆盖上一次读到的内容
// 返回0且err为nil代表对端关闭了写端
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	b.end = 0
	n, err := unix.Read(fd, b.buf)
	if err != nil {
		return 0, err
	}
	b.end = n
	return n, nil
}

// WriteToFD 把有效字节写入文件描述符，只调用一次write，不处理部分写入
func (b *Buffer) WriteToFD(fd int) (int, error) {
	return unix.Write(fd, b.buf[:b.end])
}
