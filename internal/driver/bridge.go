package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/linjuya-lu/device_vdcp_go/internal/cliptimes"
	"github.com/linjuya-lu/device_vdcp_go/internal/config"
	"github.com/linjuya-lu/device_vdcp_go/internal/mqtt"
	"github.com/linjuya-lu/device_vdcp_go/internal/relay"
	"github.com/linjuya-lu/device_vdcp_go/internal/serial"
	"github.com/linjuya-lu/device_vdcp_go/internal/vdcp"
	"github.com/linjuya-lu/device_vdcp_go/internal/web"
)

// TriggerQueueSize play 触发通道容量，满了 play 仍然 ACK，只记录错误
const TriggerQueueSize = 32

const shutdownTimeout = 2 * time.Second

// bridge 把串口循环、relay、状态接口和 MQTT 串起来
type bridge struct {
	lc       logger.LoggingClient
	cfg      *config.VDCPConfig
	board    *cliptimes.Board
	triggers chan uint8
	relay    *relay.Relay
	ports    []serial.Port
	loops    []*serial.Loop
	web      *web.Server
	mqtt     *mqtt.Client

	// 便于测试替换
	newPort    func(config.Port) (serial.Port, error)
	dialBroker func(logger.LoggingClient, mqtt.ClientOptions) (*mqtt.Client, error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newBridge(lc logger.LoggingClient, cfg *config.VDCPConfig) *bridge {
	names := make([]string, len(cfg.Ports))
	for i, p := range cfg.Ports {
		names[i] = p.Name
	}
	return &bridge{
		lc:         lc,
		cfg:        cfg,
		board:      cliptimes.NewBoard(names),
		triggers:   make(chan uint8, TriggerQueueSize),
		newPort:    serial.NewPort,
		dialBroker: mqtt.NewClient,
	}
}

// setup 负责：
//  1. 创建 relay（池创建失败则整体失败）
//  2. 打开所有串口，打不开的端口只记录日志，不影响其它端口
//  3. 为每个串口准备协议状态和收发循环
//  4. 准备状态接口，配置了 Broker 时连接 MQTT
func (b *bridge) setup(db *DB, reporter serial.Reporter) error {
	rcfg := relay.ConfigFrom(b.cfg)
	r, err := relay.New(b.lc, rcfg, b.triggers)
	if err != nil {
		return err
	}
	b.relay = r

	loopCfg := serial.LoopConfig{
		ReadInterval: b.cfg.Timing.ReadInterval(),
		FrameTimeout: b.cfg.Timing.FrameTimeout(),
		Freshness:    b.cfg.Timing.Freshness(),
	}
	for i, pc := range b.cfg.Ports {
		p, err := b.newPort(pc)
		if err != nil {
			b.lc.Errorf("unsupported port %s: %v", pc.Name, err)
			continue
		}
		if err := p.Open(); err != nil {
			b.lc.Errorf("Completely failed opening serial port %s (%s): %v", pc.Name, pc.Device, err)
			continue
		}
		if eff := serial.EffectiveReadTimeout(pc.ReadTimeout()); eff != pc.ReadTimeout() {
			b.lc.Infof("serial port %s: readTimeoutMs %d is applied as %s by the serial driver",
				pc.Name, pc.TimeoutMs, eff)
		}
		st := vdcp.NewPortState(pc.Number, pc.ClipNames(), b.triggers)
		loop := serial.NewLoop(b.lc, p, st, vdcp.NewDefaultTable(b.lc),
			b.board.Queue(i), make([]uint16, len(pc.Segments)), loopCfg)
		loop.SetReporter(reporter)
		b.ports = append(b.ports, p)
		b.loops = append(b.loops, loop)
	}
	if len(b.loops) == 0 {
		b.lc.Warn("no serial port could be opened, only the relay and status server are running")
	}

	b.web = web.New(b.lc, b.cfg, b.board, db)

	if b.cfg.MQTT.Broker != "" {
		c, err := b.dialBroker(b.lc, mqtt.OptionsFrom(b.cfg.MQTT))
		if err != nil {
			b.lc.Errorf("MQTT disabled, connect to %s failed: %v", b.cfg.MQTT.Broker, err)
		} else {
			b.mqtt = c
			b.relay.SetPublisher(c)
		}
	}
	return nil
}

// start 启动所有后台 goroutine
func (b *bridge) start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.relay.Run(ctx)
	}()
	for _, l := range b.loops {
		b.wg.Add(1)
		go func(l *serial.Loop) {
			defer b.wg.Done()
			l.Run(ctx)
		}(l)
	}
	if b.web != nil {
		b.web.Start()
	}
	if b.mqtt != nil {
		err := b.mqtt.SubscribeDurations(b.cfg.MQTT.DurationsTopic, b.applyDurations)
		if err != nil {
			b.lc.Errorf("subscribe %s failed: %v", b.cfg.MQTT.DurationsTopic, err)
		}
	}
}

func (b *bridge) applyDurations(upd mqtt.DurationUpdate) {
	if err := b.board.Push(upd.Port, upd.Times); err != nil {
		b.lc.Warnf("dropping clip times %v: %v", upd.Times, err)
		return
	}
	b.lc.Infof("got clip times over MQTT for port %d: %v", upd.Port, upd.Times)
}

// stop 取消所有循环并释放资源，返回遇到的第一个错误
func (b *bridge) stop() error {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()

	var firstErr error
	for _, p := range b.ports {
		if err := p.Close(); err != nil {
			b.lc.Warnf("close port %s: %v", p.Name(), err)
			if firstErr == nil {
				firstErr = fmt.Errorf("close port %s: %w", p.Name(), err)
			}
		}
	}
	if b.relay != nil {
		b.relay.Close()
	}
	if b.web != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := b.web.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("status server shutdown: %w", err)
		}
	}
	if b.mqtt != nil {
		b.mqtt.Disconnect(250)
	}
	return firstErr
}
