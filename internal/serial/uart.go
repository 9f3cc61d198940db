package serial

import (
	"fmt"

	"github.com/linjuya-lu/device_vdcp_go/internal/config"
	"github.com/tarm/serial"
)

// UARTPort 全双工串口（RS-232 / RS-422 转换器都走这里）
type UARTPort struct {
	cfg    config.Port
	handle *serial.Port
}

func NewUARTPort(cfg config.Port) Port {
	return &UARTPort{cfg: cfg}
}

func (u *UARTPort) Open() error {
	p, err := serial.OpenPort(linkConfig(u.cfg))
	if err != nil {
		return fmt.Errorf("open UART %s failed: %w", u.cfg.Device, err)
	}
	u.handle = p
	return nil
}

func (u *UARTPort) Close() error {
	if u.handle != nil {
		return u.handle.Close()
	}
	return nil
}

func (u *UARTPort) Read(p []byte) (int, error) {
	return u.handle.Read(p)
}

func (u *UARTPort) Write(p []byte) (int, error) {
	n, err := u.handle.Write(p)
	if err != nil {
		return n, fmt.Errorf("UART write failed: %w", err)
	}
	return n, nil
}

// Name 返回逻辑名称
func (u *UARTPort) Name() string {
	return u.cfg.Name
}

func (u *UARTPort) WriteFrame(frame []byte) error {
	if _, err := u.Write(frame); err != nil {
		return fmt.Errorf("UART WriteFrame failed: %w", err)
	}
	return nil
}
