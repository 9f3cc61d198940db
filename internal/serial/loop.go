package serial

import (
	"context"
	"errors"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/linjuya-lu/device_vdcp_go/internal/cliptimes"
	"github.com/linjuya-lu/device_vdcp_go/internal/metrics"
	"github.com/linjuya-lu/device_vdcp_go/internal/vdcp"
)

// DefaultReadInterval 每轮循环后的休眠，限制 CPU 占用
const DefaultReadInterval = 5 * time.Millisecond

// Reporter 接收端口状态快照，在循环所在的 goroutine 里同步调用
type Reporter interface {
	Report(portName string, snap vdcp.Snapshot)
}

type LoopConfig struct {
	ReadInterval time.Duration
	FrameTimeout time.Duration
	Freshness    time.Duration
}

// Loop 一个串口的收发循环，独占该端口的 PortState
type Loop struct {
	lc        logger.LoggingClient
	port      Port
	state     *vdcp.PortState
	table     *vdcp.Table
	dec       *vdcp.Decoder
	updates   <-chan []uint16
	durations []uint16
	interval  time.Duration
	reporter  Reporter
	now       func() time.Time
}

// NewLoop durations 为初始素材时长，updates 为时长更新队列（可为 nil）
func NewLoop(lc logger.LoggingClient, port Port, state *vdcp.PortState, table *vdcp.Table,
	updates <-chan []uint16, durations []uint16, cfg LoopConfig) *Loop {
	if cfg.ReadInterval <= 0 {
		cfg.ReadInterval = DefaultReadInterval
	}
	state.SetFreshness(cfg.Freshness)
	return &Loop{
		lc:        lc,
		port:      port,
		state:     state,
		table:     table,
		dec:       vdcp.NewDecoder(cfg.FrameTimeout),
		updates:   updates,
		durations: durations,
		interval:  cfg.ReadInterval,
		now:       time.Now,
	}
}

// SetReporter 设置快照接收方
func (l *Loop) SetReporter(r Reporter) {
	l.reporter = r
}

// Run 循环直到 ctx 取消
func (l *Loop) Run(ctx context.Context) {
	l.lc.Infof("starting serial loop on %s (port %d)", l.port.Name(), l.state.Number)
	l.report()
	for {
		select {
		case <-ctx.Done():
			l.lc.Infof("serial loop on %s stopped", l.port.Name())
			return
		default:
		}
		_ = l.Step()
		time.Sleep(l.interval)
	}
}

// Step 执行一轮：时长过期检查、取最新时长、读一帧并回复。
// 超时返回 nil；其它错误已记录日志，返回给调用方仅供参考。
func (l *Loop) Step() error {
	changed := l.state.CheckFreshness(l.now())

	if batch, ok := cliptimes.Latest(l.updates); ok {
		l.lc.Infof("got clip times for %s: %v", l.port.Name(), batch)
		l.durations = batch
		l.state.MarkDurationsUpdated(l.now())
		changed = true
	}

	// 命令已执行就上报，回复写失败也一样
	dispatched, err := l.handleIncoming()
	if dispatched {
		changed = true
	}
	if changed {
		l.report()
	}
	if errors.Is(err, vdcp.ErrIOTimeout) {
		return nil
	}
	return err
}

func (l *Loop) handleIncoming() (bool, error) {
	name := l.port.Name()
	msg, err := l.dec.Decode(l.port)
	if err != nil {
		switch {
		case errors.Is(err, vdcp.ErrIOTimeout):
		case errors.Is(err, vdcp.ErrUnexpectedStartByte):
			metrics.RecordFrame(name, "bad_start")
			l.lc.Warnf("message read failed on %s because: %v", name, err)
		case errors.Is(err, vdcp.ErrIncompleteRead), errors.Is(err, vdcp.ErrShortFrame):
			metrics.RecordFrame(name, "incomplete")
			l.lc.Warnf("message read failed on %s because: %v", name, err)
		default:
			metrics.RecordFrame(name, "io_error")
			l.lc.Warnf("message read failed on %s because: %v", name, err)
		}
		return false, err
	}
	metrics.RecordFrame(name, "ok")

	resp, cmd := l.table.Dispatch(msg, l.durations, l.state)
	metrics.RecordCommand(name, cmd)

	out := vdcp.Encode(msg.Command1, msg.Code, resp)
	l.lc.Debugf("(hex)replying on %s: % x", name, out)
	if err := l.port.WriteFrame(out); err != nil {
		l.lc.Errorf("failed writing reply on %s: %v", name, err)
		return true, err
	}
	return true, nil
}

func (l *Loop) report() {
	if l.reporter != nil {
		l.reporter.Report(l.port.Name(), l.state.Snapshot(l.durations))
	}
}
