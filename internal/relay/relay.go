// Package relay 把 play 触发转换成数字量输出模块上的 HTTP 脉冲。
//
// 单个 goroutine 从触发通道收端口号，第一个触发到达后等待一个很短的合并窗口，
// 把窗口内的触发按模块分组，每个模块一条表单 POST，再交给固定大小的 ants 池发送。
// 池满时直接拒绝并记录，不会阻塞串口循环。
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/go-resty/resty/v2"
	"github.com/linjuya-lu/device_vdcp_go/internal/config"
	"github.com/linjuya-lu/device_vdcp_go/internal/metrics"
	"github.com/panjf2000/ants/v2"
)

const (
	DefaultWorkers     = 5
	DefaultBatchWindow = 11 * time.Millisecond
	DefaultPulseOff    = 20 * time.Millisecond
	requestTimeout     = 2 * time.Second
	releaseTimeout     = time.Second
	// EventQueueSize 待发布的脉冲结果上限，满了丢弃
	EventQueueSize = 64
)

type Config struct {
	Outputs     []config.Output
	Modules     []config.Module
	Workers     int
	BatchWindow time.Duration
	PulseOff    time.Duration
	Publisher   Publisher
}

// ConfigFrom 从服务配置取出 relay 需要的部分
func ConfigFrom(cfg *config.VDCPConfig) Config {
	return Config{
		Outputs:     cfg.Outputs,
		Modules:     cfg.Modules,
		Workers:     cfg.Relay.Workers,
		BatchWindow: cfg.Timing.BatchWindow(),
		PulseOff:    cfg.Timing.PulseOff(),
	}
}

type Relay struct {
	lc          logger.LoggingClient
	mapping     CommandMapping
	ips         ModuleIPs
	triggers    <-chan uint8
	pool        *ants.Pool
	client      *resty.Client
	batchWindow time.Duration
	pulseOff    time.Duration
	publisher   Publisher
	events      chan PlayEvent
	pubDone     chan struct{}
	closeOnce   sync.Once
	now         func() time.Time
}

// New 校验映射（问题只记录日志）并创建 worker 池
func New(lc logger.LoggingClient, cfg Config, triggers <-chan uint8) (*Relay, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = DefaultBatchWindow
	}
	if cfg.PulseOff <= 0 {
		cfg.PulseOff = DefaultPulseOff
	}

	r := &Relay{
		lc:          lc,
		mapping:     NewCommandMapping(cfg.Outputs),
		ips:         NewModuleIPs(lc, cfg.Modules),
		triggers:    triggers,
		batchWindow: cfg.BatchWindow,
		pulseOff:    cfg.PulseOff,
		now:         time.Now,
	}
	checkConfig(lc, r.mapping, r.ips)

	pool, err := ants.NewPool(cfg.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			lc.Errorf("relay pulse panicked: %v", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create relay pool failed: %w", err)
	}
	r.pool = pool
	r.client = resty.New().
		SetBasicAuth(username, password).
		SetTimeout(requestTimeout)

	if cfg.Publisher != nil {
		r.SetPublisher(cfg.Publisher)
	}

	lc.Infof("relay set up with %d workers, %d mapped ports, %d modules",
		cfg.Workers, len(r.mapping), len(r.ips))
	return r, nil
}

// SetPublisher 设置脉冲结果的接收方，需在 Run 之前调用，只能调用一次。
// 发布在单独的 goroutine 里进行，发布方卡住不会占用脉冲 worker。
func (r *Relay) SetPublisher(p Publisher) {
	if r.publisher != nil || p == nil {
		return
	}
	r.publisher = p
	r.events = make(chan PlayEvent, EventQueueSize)
	r.pubDone = make(chan struct{})
	go r.publishLoop(p, r.events, r.pubDone)
}

func (r *Relay) publishLoop(p Publisher, events <-chan PlayEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-events:
			if err := p.PublishPlay(ev); err != nil {
				r.lc.Warnf("failed publishing play event for port %d: %v", ev.Port, err)
			}
		}
	}
}

// Run 直到 ctx 取消或触发通道关闭
func (r *Relay) Run(ctx context.Context) {
	r.lc.Info("Starting relay, waiting for play triggers")
	for {
		select {
		case <-ctx.Done():
			r.lc.Info("relay stopped")
			return
		case port, ok := <-r.triggers:
			if !ok {
				r.lc.Info("trigger channel closed, relay stopped")
				return
			}
			time.Sleep(r.batchWindow)
			ports := append([]uint8{port}, drain(r.triggers)...)
			r.dispatch(ports)
		}
	}
}

// drain 取走通道里所有已到达的触发
func drain(ch <-chan uint8) []uint8 {
	var out []uint8
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, p)
		default:
			return out
		}
	}
}

func (r *Relay) dispatch(ports []uint8) {
	r.lc.Debugf("relay batch: ports %v", ports)
	for _, req := range makeRequests(r.lc, ports, r.mapping, r.ips) {
		req := req
		if err := r.pool.Submit(func() { r.pulse(req) }); err != nil {
			r.lc.Errorf("couldn't submit pulse %s|%v: %v", req.URL, req.Form, err)
			metrics.RecordDropped("pool_overload")
		}
	}
}

// Close 释放 worker 池，最多等待正在进行的脉冲 1 秒，然后停止发布
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		if err := r.pool.ReleaseTimeout(releaseTimeout); err != nil {
			r.lc.Warnf("relay pool release: %v", err)
		}
		if r.pubDone != nil {
			close(r.pubDone)
		}
	})
}
