package serial

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/linjuya-lu/device_vdcp_go/internal/cliptimes"
	"github.com/linjuya-lu/device_vdcp_go/internal/config"
	"github.com/linjuya-lu/device_vdcp_go/internal/vdcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort 用内存缓冲模拟串口，读空时像 tarm/serial 一样返回 (0, io.EOF)
type fakePort struct {
	mu       sync.Mutex
	in       bytes.Buffer
	frames   [][]byte
	writeErr error
}

func (f *fakePort) Open() error  { return nil }
func (f *fakePort) Close() error { return nil }
func (f *fakePort) Name() string { return "fake" }

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.in.Len() == 0 {
		return 0, io.EOF
	}
	return f.in.Read(p)
}

func (f *fakePort) Write(p []byte) (int, error) { return len(p), f.WriteFrame(p) }

func (f *fakePort) WriteFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *fakePort) feed(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.in.Write(b)
}

func (f *fakePort) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

type recordingReporter struct {
	mu    sync.Mutex
	snaps []vdcp.Snapshot
}

func (r *recordingReporter) Report(_ string, snap vdcp.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *recordingReporter) last() vdcp.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func newTestLoop(t *testing.T, updates <-chan []uint16, triggers chan<- uint8) (*Loop, *fakePort) {
	t.Helper()
	lc := logger.NewMockClient()
	port := &fakePort{}
	st := vdcp.NewPortState(1, [][]byte{[]byte("PROMO1"), []byte("PROMO2")}, triggers)
	l := NewLoop(lc, port, st, vdcp.NewDefaultTable(lc), updates, []uint16{0, 0},
		LoopConfig{FrameTimeout: 5 * time.Millisecond})
	return l, port
}

func request(typ, code uint8, data ...byte) []byte {
	return vdcp.EncodeRequest(vdcp.NewCommand1(typ, 0), code, data)
}

func TestStep_AnswersFrame(t *testing.T) {
	l, port := newTestLoop(t, nil, nil)
	port.feed(request(0x3, 0x05))

	require.NoError(t, l.Step())
	want := vdcp.Encode(vdcp.NewCommand1(0x3, 0), 0x05, vdcp.FramedResponse(0x05, 0x01, 0x01, 0, 0, 0))
	assert.Equal(t, [][]byte{want}, port.written())
}

func TestStep_TimeoutIsSilent(t *testing.T) {
	l, port := newTestLoop(t, nil, nil)
	assert.NoError(t, l.Step())
	assert.Empty(t, port.written())
}

func TestStep_ResyncsAfterGarbage(t *testing.T) {
	l, port := newTestLoop(t, nil, nil)
	port.feed(append([]byte{0x55}, request(0x2, 0x21)...))

	assert.ErrorIs(t, l.Step(), vdcp.ErrUnexpectedStartByte)
	require.NoError(t, l.Step())
	assert.Equal(t, [][]byte{{vdcp.ACK}}, port.written())
}

func TestStep_UnknownCommandNaks(t *testing.T) {
	l, port := newTestLoop(t, nil, nil)
	port.feed(request(0x7, 0x42, 0x01))
	require.NoError(t, l.Step())
	assert.Equal(t, [][]byte{{vdcp.NAK, 0x01}}, port.written())
}

func TestStep_AppliesLatestDurations(t *testing.T) {
	board := cliptimes.NewBoard([]string{"fake"})
	l, port := newTestLoop(t, board.Queue(0), nil)
	rep := &recordingReporter{}
	l.SetReporter(rep)

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.NoError(t, board.Push(0, []uint16{10, 10}))
	require.NoError(t, board.Push(0, []uint16{90, 125}))
	port.feed(request(0xb, 0x14, 'P', '2'))
	require.NoError(t, l.Step())

	sizeReply := vdcp.Encode(vdcp.NewCommand1(0xb, 0), 0x14, vdcp.FramedResponse(0, 5, 2, 0))
	assert.Equal(t, [][]byte{sizeReply}, port.written())
	assert.Equal(t, []uint16{90, 125}, rep.last().Durations)
	assert.Equal(t, vdcp.NoClips, rep.last().ClipStatus)

	port.feed(request(0x3, 0x10))
	require.NoError(t, l.Step())
	noClips := vdcp.Encode(vdcp.NewCommand1(0x3, 0), 0x10, vdcp.FramedResponse(0x02, 0x00, 0x00))
	assert.Equal(t, noClips, port.written()[1])

	now = now.Add(20 * time.Second)
	port.feed(request(0x3, 0x10))
	require.NoError(t, l.Step())
	clips := vdcp.Encode(vdcp.NewCommand1(0x3, 0), 0x10, vdcp.FramedResponse(0x02, 0x00, 0x1f))
	assert.Equal(t, clips, port.written()[2])
	assert.Equal(t, vdcp.Clips, rep.last().ClipStatus)
}

func TestStep_PlaySendsTrigger(t *testing.T) {
	triggers := make(chan uint8, 1)
	l, port := newTestLoop(t, nil, triggers)
	rep := &recordingReporter{}
	l.SetReporter(rep)

	port.feed(request(0x1, 0x01))
	require.NoError(t, l.Step())
	assert.Equal(t, uint8(1), <-triggers)
	assert.Equal(t, vdcp.Playing, rep.last().Status)
	assert.Equal(t, [][]byte{{vdcp.ACK}}, port.written())
}

func TestStep_WriteFailureIsReturned(t *testing.T) {
	l, port := newTestLoop(t, nil, nil)
	port.writeErr = errors.New("cable pulled")
	port.feed(request(0x2, 0x21))
	assert.EqualError(t, l.Step(), "cable pulled")
}

func TestStep_WriteFailureStillReportsState(t *testing.T) {
	triggers := make(chan uint8, 1)
	l, port := newTestLoop(t, nil, triggers)
	rep := &recordingReporter{}
	l.SetReporter(rep)
	port.writeErr = errors.New("cable pulled")

	port.feed(request(0x1, 0x01))
	assert.EqualError(t, l.Step(), "cable pulled")
	assert.Equal(t, uint8(1), <-triggers)
	assert.Equal(t, vdcp.Playing, rep.last().Status)
}

func TestStep_ReadErrorDoesNotReport(t *testing.T) {
	l, port := newTestLoop(t, nil, nil)
	rep := &recordingReporter{}
	l.SetReporter(rep)

	port.feed([]byte{0x55})
	_ = l.Step()
	assert.Empty(t, port.written())
	rep.mu.Lock()
	defer rep.mu.Unlock()
	assert.Empty(t, rep.snaps)
}

func TestRun_StopsOnCancel(t *testing.T) {
	l, port := newTestLoop(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	port.feed(request(0x3, 0x01))
	require.Eventually(t, func() bool { return len(port.written()) == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestNewPort_Types(t *testing.T) {
	for _, typ := range []string{"uart", "rs232", "rs422"} {
		p, err := NewPort(config.Port{Name: "a", Type: typ})
		require.NoError(t, err)
		assert.IsType(t, &UARTPort{}, p)
		assert.Equal(t, "a", p.Name())
	}
	p, err := NewPort(config.Port{Name: "b", Type: "rs485"})
	require.NoError(t, err)
	assert.IsType(t, &RS485Port{}, p)

	_, err = NewPort(config.Port{Type: "usb"})
	assert.Error(t, err)
}

func TestLinkConfig(t *testing.T) {
	c := linkConfig(config.Port{Device: "/dev/ttyS3", TimeoutMs: 1})
	assert.Equal(t, "/dev/ttyS3", c.Name)
	assert.Equal(t, 38400, c.Baud)
	assert.Equal(t, byte(8), c.Size)
	assert.Equal(t, byte('O'), byte(c.Parity))
	assert.Equal(t, byte(1), byte(c.StopBits))
	assert.Equal(t, time.Millisecond, c.ReadTimeout)
}

func TestEffectiveReadTimeout(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, 0},
		{-time.Millisecond, 0},
		{time.Millisecond, 100 * time.Millisecond},
		{99 * time.Millisecond, 100 * time.Millisecond},
		{150 * time.Millisecond, 100 * time.Millisecond},
		{250 * time.Millisecond, 200 * time.Millisecond},
		{30 * time.Second, 25500 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EffectiveReadTimeout(tt.in), tt.in.String())
	}
}

func TestGPIOHelpers(t *testing.T) {
	root := t.TempDir()
	old := gpioRoot
	gpioRoot = root
	t.Cleanup(func() { gpioRoot = old })

	require.NoError(t, os.WriteFile(filepath.Join(root, "export"), nil, 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "gpio914"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "gpio914", "direction"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "gpio914", "value"), nil, 0o600))

	require.NoError(t, exportGPIO(914))
	require.NoError(t, setGPIODirection(914, "out"))
	f, err := openGPIOValue(914)
	require.NoError(t, err)
	f.Close()

	got, err := os.ReadFile(filepath.Join(root, "export"))
	require.NoError(t, err)
	assert.Equal(t, "914", string(got))
	got, err = os.ReadFile(filepath.Join(root, "gpio914", "direction"))
	require.NoError(t, err)
	assert.Equal(t, "out", string(got))

	assert.Error(t, setGPIODirection(1, "out"))
}

func TestTxDuration(t *testing.T) {
	// 38400 波特率下 1 字节 11 位约 286µs
	assert.InDelta(t, 286*time.Microsecond, txDuration(1), float64(time.Microsecond))
	assert.Equal(t, time.Duration(0), txDuration(0))
}
