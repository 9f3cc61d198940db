package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultBatchWindowMs  = 11
	DefaultPulseOffMs     = 20
	DefaultReadIntervalMs = 5
	DefaultFrameTimeoutMs = 50
	DefaultFreshnessSec   = 20
	DefaultReadTimeoutMs  = 1
	DefaultWorkers        = 5
	DefaultHTTPAddr       = ":8000"
	DefaultMQTTClientID   = "device-vdcp"
	DefaultPlayTopic      = "vdcp/play"
	DefaultDurationsTopic = "vdcp/durations"
)

var (
	// Cfg 全局持有反序列化后的配置
	Cfg  *VDCPConfig
	once sync.Once

	// 端口名 → Port
	portMap map[string]Port
)

// LoadConfig 从指定 YAML 文件加载配置，只初始化一次
func LoadConfig(path string) error {
	var err error
	once.Do(func() {
		var cfg *VDCPConfig
		cfg, err = Load(path)
		if err != nil {
			return
		}
		Cfg = cfg
		portMap = make(map[string]Port, len(cfg.Ports))
		for _, p := range cfg.Ports {
			portMap[p.Name] = p
		}
	})
	return err
}

// GetPort 根据端口名称返回 Port 配置
func GetPort(name string) (Port, bool) {
	p, ok := portMap[name]
	return p, ok
}

// Load 读取、解析并校验配置文件
func Load(path string) (*VDCPConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

// Parse 反序列化 YAML，补默认值后校验
func Parse(data []byte) (*VDCPConfig, error) {
	var cfg VDCPConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *VDCPConfig) {
	for i := range cfg.Ports {
		if cfg.Ports[i].Type == "" {
			cfg.Ports[i].Type = "uart"
		}
		if cfg.Ports[i].TimeoutMs <= 0 {
			cfg.Ports[i].TimeoutMs = DefaultReadTimeoutMs
		}
	}
	t := &cfg.Timing
	if t.BatchWindowMs <= 0 {
		t.BatchWindowMs = DefaultBatchWindowMs
	}
	if t.PulseOffMs <= 0 {
		t.PulseOffMs = DefaultPulseOffMs
	}
	if t.ReadIntervalMs <= 0 {
		t.ReadIntervalMs = DefaultReadIntervalMs
	}
	if t.FrameTimeoutMs <= 0 {
		t.FrameTimeoutMs = DefaultFrameTimeoutMs
	}
	if t.FreshnessSec <= 0 {
		t.FreshnessSec = DefaultFreshnessSec
	}
	if cfg.Relay.Workers <= 0 {
		cfg.Relay.Workers = DefaultWorkers
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = DefaultMQTTClientID
	}
	if cfg.MQTT.PlayTopic == "" {
		cfg.MQTT.PlayTopic = DefaultPlayTopic
	}
	if cfg.MQTT.DurationsTopic == "" {
		cfg.MQTT.DurationsTopic = DefaultDurationsTopic
	}
}

// Validate 只检查会导致启动失败的问题；
// 映射到未配置 IP 的模块不在这里报错，由 relay 启动时记录
func Validate(cfg *VDCPConfig) error {
	if len(cfg.Ports) == 0 {
		return fmt.Errorf("config has no ports")
	}
	if len(cfg.Ports) > 255 {
		return fmt.Errorf("config has %d ports, at most 255 supported", len(cfg.Ports))
	}
	names := make(map[string]struct{}, len(cfg.Ports))
	for i, p := range cfg.Ports {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("port[%d] missing name", i)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("port[%d] duplicate name %q", i, p.Name)
		}
		names[p.Name] = struct{}{}
		if strings.TrimSpace(p.Device) == "" {
			return fmt.Errorf("port[%d] %s missing device", i, p.Name)
		}
		if len(p.Segments) == 0 {
			return fmt.Errorf("port[%d] %s needs at least one segment", i, p.Name)
		}
		switch p.Type {
		case "uart", "rs232", "rs422", "rs485":
		default:
			return fmt.Errorf("port[%d] %s unknown type %q", i, p.Name, p.Type)
		}
	}
	ids := make(map[uint8]struct{}, len(cfg.Modules))
	for i, m := range cfg.Modules {
		if _, dup := ids[m.ID]; dup {
			return fmt.Errorf("module[%d] duplicate id %d", i, m.ID)
		}
		ids[m.ID] = struct{}{}
		ip := net.ParseIP(strings.TrimSpace(m.IP))
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("module[%d] id %d invalid IPv4 address %q", i, m.ID, m.IP)
		}
	}
	mapped := make(map[uint8]struct{}, len(cfg.Outputs))
	for i, o := range cfg.Outputs {
		if _, dup := mapped[o.Port]; dup {
			return fmt.Errorf("output[%d] port %d mapped twice", i, o.Port)
		}
		mapped[o.Port] = struct{}{}
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (t Timing) BatchWindow() time.Duration  { return ms(t.BatchWindowMs) }
func (t Timing) PulseOff() time.Duration     { return ms(t.PulseOffMs) }
func (t Timing) ReadInterval() time.Duration { return ms(t.ReadIntervalMs) }
func (t Timing) FrameTimeout() time.Duration { return ms(t.FrameTimeoutMs) }
func (t Timing) Freshness() time.Duration    { return time.Duration(t.FreshnessSec) * time.Second }

func (p Port) ReadTimeout() time.Duration { return ms(p.TimeoutMs) }

// ClipNames 返回 segments 的字节形式，供 active_id_request 回复使用
func (p Port) ClipNames() [][]byte {
	out := make([][]byte, len(p.Segments))
	for i, s := range p.Segments {
		out[i] = []byte(s)
	}
	return out
}
