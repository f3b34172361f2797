package gecho

// netpoll 边缘触发的多路复用器，每个worker独占一个
type netpoll interface {
	// register 以边缘触发方式添加描述符
	register(fd int, interest Interest) error
	// modify 替换已注册描述符的订阅方向
	modify(fd int, interest Interest) error
	// wait 阻塞直到至少一个事件就绪，没有超时，被信号中断时返回0
	wait(events []Event) (int, error)
	// wakeup 唤醒阻塞中的wait
	wakeup() error
	close() error
}
