package main

import (
	"bytes"
	"flag"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alberliu/gecho"
)

var log = gecho.GetLogger()

var (
	addr     = flag.String("addr", "127.0.0.1:8080", "server address")
	connNum  = flag.Int("c", 1000, "number of connections")
	msgNum   = flag.Int("m", 100, "messages per connection")
	interval = flag.Duration("i", time.Millisecond, "interval between messages")
)

var (
	okNum   int64
	failNum int64
)

func main() {
	flag.Parse()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *connNum; i++ {
		conn, err := net.Dial("tcp", *addr)
		if err != nil {
			log.Error("error dialing ", err.Error())
			continue
		}

		wg.Add(1)
		go func(i int, conn net.Conn) {
			defer wg.Done()
			handleConn(i, conn)
		}(i, conn)
		if i%100 == 0 {
			log.Info("dial ", i)
		}
	}
	wg.Wait()

	log.Infow("done", "ok", atomic.LoadInt64(&okNum), "fail", atomic.LoadInt64(&failNum),
		"cost", time.Since(start).String())
}

// handleConn 每次写入一个时间戳，等待原样返回后再写下一个
func handleConn(i int, conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, 1024)
	for j := 0; j < *msgNum; j++ {
		msg := []byte(strconv.Itoa(i) + ":" + strconv.FormatInt(time.Now().UnixNano(), 10))
		_, err := conn.Write(msg)
		if err != nil {
			log.Error("write ", err)
			atomic.AddInt64(&failNum, 1)
			return
		}

		_, err = io.ReadFull(conn, buf[:len(msg)])
		if err != nil {
			log.Error("read ", err)
			atomic.AddInt64(&failNum, 1)
			return
		}
		if !bytes.Equal(msg, buf[:len(msg)]) {
			log.Error("mismatch ", string(msg), " ", string(buf[:len(msg)]))
			atomic.AddInt64(&failNum, 1)
			return
		}
		atomic.AddInt64(&okNum, 1)
		time.Sleep(*interval)
	}
}
