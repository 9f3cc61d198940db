package vdcp

import (
	"errors"
	"fmt"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
)

var (
	ErrTriggerQueueFull = errors.New("vdcp: play trigger queue full")
	ErrNoTriggerChannel = errors.New("vdcp: no play trigger channel")
)

// Handler 处理一条命令。durations 是当前端口的素材时长（秒）
type Handler func(lc logger.LoggingClient, msg Message, durations []uint16, st *PortState) Response

type Command struct {
	Name   string
	Type   uint8 // command1 高 4 位
	Code   uint8
	Handle Handler
}

// Table 有序命令表，第一个 (type, code) 匹配的命令生效
type Table struct {
	lc       logger.LoggingClient
	commands []Command
}

func NewTable(lc logger.LoggingClient, commands []Command) *Table {
	return &Table{lc: lc, commands: commands}
}

// NewDefaultTable 仿真播出服务器需要应答的全部命令
func NewDefaultTable(lc logger.LoggingClient) *Table {
	return NewTable(lc, DefaultCommands())
}

func DefaultCommands() []Command {
	return []Command{
		{Name: "id_request", Type: 0xb, Code: 0x16, Handle: idRequest},
		{Name: "size_request", Type: 0xb, Code: 0x14, Handle: sizeRequest},
		{Name: "port_status", Type: 0x3, Code: 0x05, Handle: portStatus},
		{Name: "system_status", Type: 0x3, Code: 0x10, Handle: systemStatus},
		{Name: "open_port", Type: 0x3, Code: 0x01, Handle: openPort},
		{Name: "close_port", Type: 0x2, Code: 0x21, Handle: closePort},
		{Name: "select_port", Type: 0x2, Code: 0x22, Handle: selectPort},
		{Name: "cue_with_data", Type: 0xa, Code: 0x25, Handle: cueWithData},
		{Name: "active_id_request", Type: 0xb, Code: 0x07, Handle: activeID},
		{Name: "play", Type: 0x1, Code: 0x01, Handle: play},
		{Name: "stop", Type: 0x1, Code: 0x00, Handle: stop},
	}
}

// Unknown 未匹配命令的名字
const Unknown = "unknown"

// Dispatch 找到命令并执行，返回回复和命令名；找不到时回 NAK
func (t *Table) Dispatch(msg Message, durations []uint16, st *PortState) (Response, string) {
	t.lc.Debugf("(hex)Processing command for message:%s", msg)
	for _, c := range t.commands {
		if msg.Command1.Type() == c.Type && msg.Code == c.Code {
			t.lc.Infof("Running command: '%s' on port %d", c.Name, st.Number)
			return c.Handle(t.lc, msg, durations, st), c.Name
		}
	}
	t.lc.Warnf("(hex)received unknown command%s", msg)
	return Nak(), Unknown
}

func idRequest(_ logger.LoggingClient, _ Message, _ []uint16, _ *PortState) Response {
	// 素材总是存在
	return FramedResponse(0x01, 0x00)
}

// sizeRequest data 最后一个字节是 ASCII 数字，表示第几个素材（从 1 开始）
func sizeRequest(lc logger.LoggingClient, msg Message, durations []uint16, _ *PortState) Response {
	secs, err := clipDuration(msg.Data, durations)
	if err != nil {
		lc.Warnf("Failed processing size request for clip %q: %v", msg.Data, err)
		return FramedResponse(0x00, 0x00, 0x01, 0x00)
	}
	lc.Infof("clip %q is %d:%02d", msg.Data, secs/60, secs%60)
	// frames|seconds|minutes|hours
	return FramedResponse(0x00, byte(secs%60), byte(secs/60), 0x00)
}

func clipDuration(data []byte, durations []uint16) (uint16, error) {
	if len(data) == 0 {
		return 0, errors.New("data was empty")
	}
	index := int(data[len(data)-1]) - '0' - 1
	if index < 0 || index >= len(durations) {
		return 0, fmt.Errorf("clip time %d requested didn't exist (have %d)", index, len(durations))
	}
	return durations[index], nil
}

func portStatus(_ logger.LoggingClient, _ Message, _ []uint16, st *PortState) Response {
	return FramedResponse(0x05, byte(st.Status), st.Number, 0x00, 0x00, 0x00)
}

func systemStatus(_ logger.LoggingClient, _ Message, _ []uint16, st *PortState) Response {
	return FramedResponse(0x02, 0x00, byte(st.ClipStatus))
}

func openPort(_ logger.LoggingClient, _ Message, _ []uint16, _ *PortState) Response {
	return FramedResponse(0x01)
}

func closePort(_ logger.LoggingClient, _ Message, _ []uint16, _ *PortState) Response {
	return Ack()
}

func selectPort(lc logger.LoggingClient, msg Message, _ []uint16, st *PortState) Response {
	if len(msg.Data) == 0 {
		lc.Warnf("select_port without a port number, keeping port %d", st.Number)
		return Ack()
	}
	lc.Infof("selecting port %d (was %d)", msg.Data[0], st.Number)
	st.Number = msg.Data[0]
	return Ack()
}

func cueWithData(lc logger.LoggingClient, msg Message, _ []uint16, st *PortState) Response {
	lc.Infof("cueing clip %q on port %d", msg.Data, st.Number)
	st.Status = Cued
	return Ack()
}

func activeID(_ logger.LoggingClient, _ Message, _ []uint16, st *PortState) Response {
	if st.Status == Idle {
		return FramedResponse(0x00)
	}
	clip := st.CuedClip()
	data := make([]byte, 0, 1+len(clip))
	data = append(data, 0x01)
	data = append(data, clip...)
	return FramedResponse(data...)
}

func play(lc logger.LoggingClient, _ Message, _ []uint16, st *PortState) Response {
	lc.Infof("Playing port %d", st.Number)
	if err := st.Trigger(); err != nil {
		lc.Errorf("failed sending play trigger for port %d: %v", st.Number, err)
	}
	st.Status = Playing
	return Ack()
}

func stop(lc logger.LoggingClient, _ Message, _ []uint16, st *PortState) Response {
	st.Status = Idle
	st.Advance()
	lc.Infof("stopped port %d, next clip %q", st.Number, st.CuedClip())
	return Ack()
}

// Trigger 不阻塞地上报一次播放；通道满时丢弃
func (s *PortState) Trigger() error {
	if s.triggers == nil {
		return ErrNoTriggerChannel
	}
	select {
	case s.triggers <- s.Number:
		return nil
	default:
		return ErrTriggerQueueFull
	}
}
