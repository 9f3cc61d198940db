package vdcp

import (
	"testing"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable() *Table {
	return NewDefaultTable(logger.NewMockClient())
}

func msgFor(typ, code uint8, data ...byte) Message {
	return Message{
		ByteCount: uint8(len(data) + 2),
		Command1:  NewCommand1(typ, 0),
		Code:      code,
		Data:      data,
	}
}

func clipNames(names ...string) [][]byte {
	out := make([][]byte, len(names))
	for i, n := range names {
		out[i] = []byte(n)
	}
	return out
}

func TestDispatch_FixedReplies(t *testing.T) {
	tbl := newTestTable()
	st := NewPortState(2, clipNames("A"), nil)

	cases := []struct {
		name string
		msg  Message
		want Response
	}{
		{"id_request", msgFor(0xb, 0x16, 'A'), FramedResponse(0x01, 0x00)},
		{"port_status", msgFor(0x3, 0x05), FramedResponse(0x05, 0x01, 0x02, 0, 0, 0)},
		{"system_status", msgFor(0x3, 0x10), FramedResponse(0x02, 0x00, 0x1f)},
		{"open_port", msgFor(0x3, 0x01), FramedResponse(0x01)},
		{"close_port", msgFor(0x2, 0x21), SimpleResponse(ACK)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, name := tbl.Dispatch(tc.msg, nil, st)
			assert.Equal(t, tc.name, name)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDispatch_UnknownCommandNaks(t *testing.T) {
	tbl := newTestTable()
	st := NewPortState(1, clipNames("A"), nil)

	for typ := uint8(0); typ < 16; typ++ {
		got, name := tbl.Dispatch(msgFor(typ, 0x99), nil, st)
		assert.Equal(t, Unknown, name)
		assert.Equal(t, SimpleResponse(NAK, 0x01), got)
	}
	// type 匹配但 code 不匹配
	got, _ := tbl.Dispatch(msgFor(0x3, 0x16), nil, st)
	assert.Equal(t, Nak(), got)
}

func TestDispatch_MatchesOnTypeNibbleOnly(t *testing.T) {
	tbl := newTestTable()
	st := NewPortState(1, clipNames("A"), nil)
	msg := Message{Command1: NewCommand1(0x3, 0x7), Code: 0x01}
	_, name := tbl.Dispatch(msg, nil, st)
	assert.Equal(t, "open_port", name)
}

func TestDispatch_FirstMatchWins(t *testing.T) {
	lc := logger.NewMockClient()
	first := Command{Name: "first", Type: 0x1, Code: 0x01, Handle: func(logger.LoggingClient, Message, []uint16, *PortState) Response {
		return SimpleResponse(0xaa)
	}}
	tbl := NewTable(lc, append([]Command{first}, DefaultCommands()...))
	got, name := tbl.Dispatch(msgFor(0x1, 0x01), nil, NewPortState(1, nil, nil))
	assert.Equal(t, "first", name)
	assert.Equal(t, SimpleResponse(0xaa), got)
}

func TestSizeRequest(t *testing.T) {
	tbl := newTestTable()
	st := NewPortState(1, clipNames("A"), nil)

	got, _ := tbl.Dispatch(msgFor(0xb, 0x14, 'C', 'L', 'I', 'P', '1'), []uint16{90}, st)
	assert.Equal(t, FramedResponse(0, 30, 1, 0), got)

	got, _ = tbl.Dispatch(msgFor(0xb, 0x14, '3'), []uint16{10, 20, 3725}, st)
	assert.Equal(t, FramedResponse(0, 5, 62, 0), got)
}

func TestSizeRequest_Fallbacks(t *testing.T) {
	tbl := newTestTable()
	st := NewPortState(1, clipNames("A"), nil)
	fallback := FramedResponse(0, 0, 1, 0)

	for name, data := range map[string][]byte{
		"empty":        nil,
		"out of range": []byte("CLIP9"),
		"zero":         []byte("CLIP0"),
		"below ascii":  {0x01},
	} {
		t.Run(name, func(t *testing.T) {
			got, _ := tbl.Dispatch(msgFor(0xb, 0x14, data...), []uint16{90}, st)
			assert.Equal(t, fallback, got)
		})
	}
}

func TestSelectPortThenPortStatus(t *testing.T) {
	tbl := newTestTable()
	st := NewPortState(1, clipNames("A"), nil)

	got, _ := tbl.Dispatch(msgFor(0x2, 0x22, 0x07), nil, st)
	assert.Equal(t, Ack(), got)
	assert.Equal(t, uint8(7), st.Number)

	got, _ = tbl.Dispatch(msgFor(0x3, 0x05), nil, st)
	assert.Equal(t, FramedResponse(0x05, byte(Idle), 0x07, 0, 0, 0), got)

	// 没有数据时保持原端口号
	got, _ = tbl.Dispatch(msgFor(0x2, 0x22), nil, st)
	assert.Equal(t, Ack(), got)
	assert.Equal(t, uint8(7), st.Number)
}

func TestCuePlayStopCycle(t *testing.T) {
	tbl := newTestTable()
	triggers := make(chan uint8, 4)
	st := NewPortState(4, clipNames("PROMO1", "PROMO2"), triggers)

	got, _ := tbl.Dispatch(msgFor(0xb, 0x07), nil, st)
	assert.Equal(t, FramedResponse(0x00), got, "idle port has no active id")

	got, _ = tbl.Dispatch(msgFor(0xa, 0x25, []byte("PROMO1")...), nil, st)
	assert.Equal(t, Ack(), got)
	assert.Equal(t, Cued, st.Status)

	got, _ = tbl.Dispatch(msgFor(0xb, 0x07), nil, st)
	assert.Equal(t, FramedResponse(append([]byte{0x01}, "PROMO1"...)...), got)

	got, _ = tbl.Dispatch(msgFor(0x1, 0x01), nil, st)
	assert.Equal(t, Ack(), got)
	assert.Equal(t, Playing, st.Status)
	require.Len(t, triggers, 1)
	assert.Equal(t, uint8(4), <-triggers)

	got, _ = tbl.Dispatch(msgFor(0x3, 0x05), nil, st)
	assert.Equal(t, FramedResponse(0x05, byte(Playing), 4, 0, 0, 0), got)

	got, _ = tbl.Dispatch(msgFor(0x1, 0x00), nil, st)
	assert.Equal(t, Ack(), got)
	assert.Equal(t, Idle, st.Status)
	assert.Equal(t, 1, st.Cued)
	assert.Equal(t, []byte("PROMO2"), st.CuedClip())
}

func TestPlay_AcksWhenTriggerFails(t *testing.T) {
	tbl := newTestTable()

	st := NewPortState(1, clipNames("A"), nil)
	got, _ := tbl.Dispatch(msgFor(0x1, 0x01), nil, st)
	assert.Equal(t, Ack(), got)
	assert.Equal(t, Playing, st.Status)

	full := make(chan uint8)
	st = NewPortState(1, clipNames("A"), full)
	got, _ = tbl.Dispatch(msgFor(0x1, 0x01), nil, st)
	assert.Equal(t, Ack(), got)
	assert.ErrorIs(t, st.Trigger(), ErrTriggerQueueFull)
}

func TestStop_WrapsCuePointer(t *testing.T) {
	tbl := newTestTable()
	for n := 1; n <= 5; n++ {
		names := make([]string, n)
		for i := range names {
			names[i] = string(rune('A' + i))
		}
		st := NewPortState(1, clipNames(names...), nil)
		for i := 0; i < n; i++ {
			tbl.Dispatch(msgFor(0x1, 0x00), nil, st)
			assert.Less(t, st.Cued, n)
		}
		assert.Equal(t, 0, st.Cued, "clips=%d", n)
	}
}
