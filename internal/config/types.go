package config

// Port 描述一个 VDCP 串口（自动化系统的一路控制口）
type Port struct {
	Name      string   `yaml:"name" json:"name"`                   // 逻辑名称，同时作为 EdgeX 设备名
	Device    string   `yaml:"device" json:"device"`               // 串口设备节点
	Type      string   `yaml:"type" json:"type"`                   // uart/rs232/rs422/rs485
	Number    uint8    `yaml:"number" json:"number"`               // VDCP 端口号（play 触发时上报）
	Segments  []string `yaml:"segments" json:"segments"`           // 按顺序轮播的素材名
	DEPin     int      `yaml:"dePin" json:"dePin,omitempty"`       // RS-485 DE/RE 控制 GPIO 编号
	TimeoutMs int      `yaml:"readTimeoutMs" json:"readTimeoutMs"` // 读操作超时（毫秒），串口驱动按 100ms 取整，最少 100ms
}

// Output 把一个 VDCP 端口号映射到某个数字量输出模块的某一路
type Output struct {
	Port   uint8 `yaml:"port" json:"port"`
	Module uint8 `yaml:"module" json:"module"`
	Pin    uint8 `yaml:"pin" json:"pin"`
}

// Module 数字量输出模块地址
type Module struct {
	ID uint8  `yaml:"id" json:"id"`
	IP string `yaml:"ip" json:"ip"`
}

// Timing 各种可调延时
type Timing struct {
	BatchWindowMs  int `yaml:"batchWindowMs" json:"batchWindowMs"`   // 合并同时触发的窗口
	PulseOffMs     int `yaml:"pulseOffMs" json:"pulseOffMs"`         // 脉冲 on → off 的间隔
	ReadIntervalMs int `yaml:"readIntervalMs" json:"readIntervalMs"` // 串口循环每轮休眠
	FrameTimeoutMs int `yaml:"frameTimeoutMs" json:"frameTimeoutMs"` // 读完一帧的最长时间
	FreshnessSec   int `yaml:"freshnessSec" json:"freshnessSec"`     // 时长更新后 NoClips 的保持时间
}

type Relay struct {
	Workers int `yaml:"workers" json:"workers"`
}

type HTTP struct {
	Addr string `yaml:"addr" json:"addr"`
}

// MQTT Broker 为空时不启用
type MQTT struct {
	Broker         string `yaml:"broker" json:"broker"`
	ClientID       string `yaml:"clientId" json:"clientId"`
	Username       string `yaml:"username" json:"-"`
	Password       string `yaml:"password" json:"-"`
	PlayTopic      string `yaml:"playTopic" json:"playTopic"`
	DurationsTopic string `yaml:"durationsTopic" json:"durationsTopic"`
}

// VDCPConfig 汇总了 Ports、Outputs、Modules 等
type VDCPConfig struct {
	Ports   []Port   `yaml:"Ports" json:"ports"`
	Outputs []Output `yaml:"Outputs" json:"outputs"`
	Modules []Module `yaml:"Modules" json:"modules"`
	Timing  Timing   `yaml:"Timing" json:"timing"`
	Relay   Relay    `yaml:"Relay" json:"relay"`
	HTTP    HTTP     `yaml:"HTTP" json:"http"`
	MQTT    MQTT     `yaml:"MQTT" json:"mqtt"`
}
