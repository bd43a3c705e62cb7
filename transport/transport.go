package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	e "github.com/fansqz/go-dap-engine/error"
	"github.com/fansqz/go-dap-engine/protocol"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// maxContentLength 与 go-dap 读取消息时的上限一致
const maxContentLength = 4 * 1024 * 1024

// Handler receives the frames read by ReadLoop. Calls happen on the reader goroutine,
// in the order the adapter wrote the frames.
type Handler interface {
	// HandleResponse gets every response, including those whose body failed to
	// decode, in which case err is a protocol error.
	HandleResponse(frame *protocol.Frame, err error)
	HandleEvent(frame *protocol.Frame)
	HandleRequest(frame *protocol.Frame)
}

// Transport frames DAP messages over an adapter's stdio.
type Transport struct {
	reader *bufio.Reader
	writer *bufio.Writer
	closer io.Closer

	// 写锁，保证 header 和 body 一次写完
	writeLock sync.Mutex
	closed    atomic.Bool
	log       *logrus.Entry
}

func New(r io.Reader, w io.Writer, c io.Closer, log *logrus.Entry) *Transport {
	if log == nil {
		log = logrus.WithField("layer", "transport")
	}
	return &Transport{
		reader: bufio.NewReader(r),
		writer: bufio.NewWriter(w),
		closer: c,
		log:    log,
	}
}

// Send writes msg as one Content-Length framed message and flushes it.
func (t *Transport) Send(msg dap.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encode message seq %d: %v", e.ErrProtocol, msg.GetSeq(), err)
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()
	if t.closed.Load() {
		return fmt.Errorf("%w: transport is closed", e.ErrIO)
	}
	if err = dap.WriteBaseMessage(t.writer, data); err != nil {
		return fmt.Errorf("%w: write: %v", e.ErrIO, err)
	}
	if err = t.writer.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %v", e.ErrIO, err)
	}
	t.log.Debugf("-> %s", data)
	return nil
}

// ReadLoop reads frames until the stream ends and hands them to h. It returns nil on
// EOF or after Close, and an io error for a broken header or stream.
func (t *Transport) ReadLoop(h Handler) error {
	for {
		data, err := t.readMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || t.closed.Load() {
				return nil
			}
			return fmt.Errorf("%w: read: %v", e.ErrIO, err)
		}
		t.log.Debugf("<- %s", data)

		frame, err := protocol.Decode(data)
		if frame == nil {
			t.log.WithError(err).Warn("drop undecodable message")
			continue
		}
		switch frame.Kind {
		case protocol.KindResponse:
			h.HandleResponse(frame, err)
		case protocol.KindEvent:
			if err != nil {
				t.log.WithError(err).Warn("drop malformed event")
				continue
			}
			h.HandleEvent(frame)
		case protocol.KindRequest:
			if err != nil {
				t.log.WithError(err).Warn("drop malformed reverse request")
				continue
			}
			h.HandleRequest(frame)
		}
	}
}

// readMessage reads one framed message. Header lines are read up to the blank line;
// only Content-Length is used, other fields such as Content-Type are skipped.
func (t *Transport) readMessage() ([]byte, error) {
	contentLength := -1
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%v: %q", dap.ErrHeaderNotContentLength, line)
		}
		contentLength = n
	}
	if contentLength < 0 {
		return nil, dap.ErrHeaderNotContentLength
	}
	if contentLength > maxContentLength {
		return nil, dap.ErrHeaderContentTooLong
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("read body (%d bytes): %w", contentLength, err)
	}
	return body, nil
}

// Close 关闭底层连接，之后 Send 返回 ErrIO，ReadLoop 正常退出
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

func (t *Transport) Closed() bool {
	return t.closed.Load()
}
