package vdcp

import (
	"errors"
	"io"
	"time"
)

var (
	ErrUnexpectedStartByte = errors.New("vdcp: byte was not the start of a message")
	ErrIncompleteRead      = errors.New("vdcp: didn't read correct number of bytes")
	ErrIOTimeout           = errors.New("vdcp: read timed out")
	ErrShortFrame          = errors.New("vdcp: byte count smaller than command header")
)

// DefaultFrameTimeout 读完 byte_count+1 个字节的最长等待
const DefaultFrameTimeout = 50 * time.Millisecond

// Checksum 对 command1、command_code 和 data 求和取低字节，再取二进制补码
func Checksum(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum += b
	}
	return -sum
}

// Encode 把回复编码成要写回串口的字节。
// Framed: 0x02, byte_count, command1, code|0x80, data..., checksum；
// byte_count 只有一个字节，超过 255 的 data 会被截断计数。
func Encode(cmd1 Command1, code uint8, resp Response) []byte {
	if resp.Kind == Simple {
		out := make([]byte, len(resp.Data))
		copy(out, resp.Data)
		return out
	}
	body := make([]byte, 0, 2+len(resp.Data))
	body = append(body, byte(cmd1), code|0x80)
	body = append(body, resp.Data...)

	out := make([]byte, 0, len(body)+3)
	out = append(out, STX, byte(len(body)))
	out = append(out, body...)
	out = append(out, Checksum(body))
	return out
}

// EncodeRequest 组一帧发往设备方向的命令，code 不置最高位。
// 测试和回放工具用它构造自动化系统发来的命令。
func EncodeRequest(cmd1 Command1, code uint8, data []byte) []byte {
	body := make([]byte, 0, 2+len(data))
	body = append(body, byte(cmd1), code)
	body = append(body, data...)
	out := make([]byte, 0, len(body)+3)
	out = append(out, STX, byte(len(body)))
	out = append(out, body...)
	out = append(out, Checksum(body))
	return out
}

// Decoder 从串口按帧读取。
// 串口驱动在超时时返回 (0, io.EOF)，因此 io.EOF 和 0 字节都视为“暂无数据”。
type Decoder struct {
	FrameTimeout time.Duration
	now          func() time.Time
}

func NewDecoder(frameTimeout time.Duration) *Decoder {
	if frameTimeout <= 0 {
		frameTimeout = DefaultFrameTimeout
	}
	return &Decoder{FrameTimeout: frameTimeout, now: time.Now}
}

// Decode 读取一帧。起始字节不是 STX 时该字节已被消费，下一次调用继续找起始字节。
func (d *Decoder) Decode(r io.Reader) (Message, error) {
	var one [1]byte
	n, err := r.Read(one[:])
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return Message{}, ErrIOTimeout
		}
		return Message{}, err
	}
	if one[0] != STX {
		return Message{}, ErrUnexpectedStartByte
	}

	deadline := d.now().Add(d.FrameTimeout)
	if err := d.readFull(r, one[:], deadline); err != nil {
		return Message{}, err
	}
	byteCount := one[0]

	buf := make([]byte, int(byteCount)+1)
	if err := d.readFull(r, buf, deadline); err != nil {
		return Message{}, err
	}
	if byteCount < 2 {
		return Message{}, ErrShortFrame
	}

	data := make([]byte, int(byteCount)-2)
	copy(data, buf[2:len(buf)-1])
	return Message{
		ByteCount: byteCount,
		Command1:  Command1(buf[0]),
		Code:      buf[1],
		Data:      data,
		Checksum:  buf[len(buf)-1],
	}, nil
}

func (d *Decoder) readFull(r io.Reader, buf []byte, deadline time.Time) error {
	got := 0
	for got < len(buf) {
		n, err := r.Read(buf[got:])
		got += n
		if got == len(buf) {
			return nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if n == 0 && !d.now().Before(deadline) {
			return ErrIncompleteRead
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}
