// internal/serial/serial.go

package serial

import (
	"fmt"
	"time"

	"github.com/linjuya-lu/device_vdcp_go/internal/config"
	"github.com/tarm/serial"
)

// VDCP 链路参数固定：38400 波特率、8 数据位、奇校验、1 停止位
const (
	Baudrate = 38400
	DataBits = 8
)

// tarm/serial 在 POSIX 上用 VTIME 实现读超时，单位 100ms，范围 1~255
const (
	ReadTimeoutGranularity = 100 * time.Millisecond
	maxReadTimeoutSteps    = 255
)

// EffectiveReadTimeout 返回配置的读超时实际生效的值：向下取整到 100ms，最少 100ms，最多 25.5s。
// 0 表示阻塞读。
func EffectiveReadTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	steps := d / ReadTimeoutGranularity
	if steps < 1 {
		steps = 1
	}
	if steps > maxReadTimeoutSteps {
		steps = maxReadTimeoutSteps
	}
	return steps * ReadTimeoutGranularity
}

// Port 是整个 serial 包对外暴露的通用串口接口
type Port interface {
	Open() error
	Close() error
	// Read 超时返回 (0, io.EOF)
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Name() string
	// WriteFrame 写入一整帧回复（RS-485 需要切换收发方向）
	WriteFrame(frame []byte) error
}

// NewPort 根据配置创建对应的串口实现
func NewPort(cfg config.Port) (Port, error) {
	switch cfg.Type {
	case "uart", "rs232", "rs422", "":
		return NewUARTPort(cfg), nil
	case "rs485":
		return NewRS485Port(cfg), nil
	default:
		return nil, fmt.Errorf("unknown port type %s", cfg.Type)
	}
}

// linkConfig 按 VDCP 规定组装 tarm/serial 配置
func linkConfig(cfg config.Port) *serial.Config {
	return &serial.Config{
		Name:        cfg.Device,
		Baud:        Baudrate,
		Size:        DataBits,
		Parity:      serial.ParityOdd,
		StopBits:    serial.Stop1,
		ReadTimeout: cfg.ReadTimeout(),
	}
}
