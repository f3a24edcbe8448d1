package main

import (
	"io"
	"os"

	"github.com/malbeclabs/chatlink/internal/slip"
)

// fileSerialLine is the one concrete "serial line" capability this
// program supplies to the core, wiring a character device or named pipe
// path to slip.SerialLine. The physical driver is explicitly out of
// scope for the core itself (spec.md §1): this is process-bootstrap
// glue, not part of the stack under test.
//
// The OS file read happens on its own goroutine (readLoop), but spec.md
// §5 requires bytes to reach the core through a serialising boundary:
// readLoop never calls cb itself. It posts a closure onto coreQueue,
// which the goroutine that owns the scheduler (run, in main.go) drains
// one item at a time, so framer/engine/connection/registry state is
// never touched from two goroutines at once.
type fileSerialLine struct {
	name  string
	f     *os.File
	cb    func(data []byte)
	queue chan<- func()
}

func newSerialLine(path string, queue chan<- func()) slip.SerialLine {
	return &fileSerialLine{name: path, queue: queue}
}

func (l *fileSerialLine) Name() string { return l.name }

func (l *fileSerialLine) Send(data []byte) error {
	f, err := l.open()
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

func (l *fileSerialLine) OnBytesArrived(cb func(data []byte)) {
	l.cb = cb
	f, err := l.open()
	if err != nil {
		return
	}
	go l.readLoop(f)
}

func (l *fileSerialLine) readLoop(f *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 && l.cb != nil {
			chunk := append([]byte(nil), buf[:n]...)
			cb := l.cb
			l.queue <- func() { cb(chunk) }
		}
		if err != nil {
			if err == io.EOF {
				return
			}
			return
		}
	}
}

func (l *fileSerialLine) open() (*os.File, error) {
	if l.f != nil {
		return l.f, nil
	}
	f, err := os.OpenFile(l.name, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	l.f = f
	return f, nil
}
