package serial

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/linjuya-lu/device_vdcp_go/internal/config"
	"github.com/tarm/serial"
)

// RS485Port 半双工串口，写回复前拉高 DE/RE，发完再拉低回到接收
type RS485Port struct {
	cfg    config.Port  // 端口配置
	port   *serial.Port // 串口句柄
	gpioFD *os.File     // DE/RE 控制 GPIO 节点
}

// gpioRoot sysfs GPIO 根目录
var gpioRoot = "/sys/class/gpio"

// 每字节 11 位：起始位 + 8 数据位 + 奇校验 + 停止位
const bitsPerByte = 11

func NewRS485Port(cfg config.Port) Port {
	return &RS485Port{cfg: cfg}
}

// Open 导出 GPIO 并打开串口
func (r *RS485Port) Open() error {
	if err := exportGPIO(r.cfg.DEPin); err != nil {
		return fmt.Errorf("export GPIO %d failed: %w", r.cfg.DEPin, err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := setGPIODirection(r.cfg.DEPin, "out"); err != nil {
		return fmt.Errorf("set GPIO %d direction: %w", r.cfg.DEPin, err)
	}
	f, err := openGPIOValue(r.cfg.DEPin)
	if err != nil {
		return fmt.Errorf("open GPIO %d value: %w", r.cfg.DEPin, err)
	}
	// 默认低电平 (接收)
	if _, err := f.WriteString("0"); err != nil {
		f.Close()
		return fmt.Errorf("init GPIO %d low: %w", r.cfg.DEPin, err)
	}
	r.gpioFD = f

	p, err := serial.OpenPort(linkConfig(r.cfg))
	if err != nil {
		r.gpioFD.Close()
		return fmt.Errorf("open serial %s failed: %w", r.cfg.Device, err)
	}
	r.port = p
	return nil
}

// Close 关闭串口和 GPIO
func (r *RS485Port) Close() error {
	var firstErr error
	if r.port != nil {
		if err := r.port.Close(); err != nil {
			firstErr = err
		}
	}
	if r.gpioFD != nil {
		if err := r.gpioFD.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *RS485Port) Read(p []byte) (int, error) {
	return r.port.Read(p)
}

// Write 不会自动切换 DE/RE，回复请用 WriteFrame
func (r *RS485Port) Write(p []byte) (int, error) {
	return r.port.Write(p)
}

// WriteFrame 切到发送 → 写整帧 → 等比特发完 → 切回接收
func (r *RS485Port) WriteFrame(frame []byte) error {
	if _, err := r.gpioFD.WriteString("1"); err != nil {
		return fmt.Errorf("GPIO DE high failed: %w", err)
	}
	n, err := r.port.Write(frame)
	if err != nil {
		r.gpioFD.WriteString("0")
		return fmt.Errorf("serial write failed: %w", err)
	}
	time.Sleep(txDuration(n))

	if _, err := r.gpioFD.WriteString("0"); err != nil {
		return fmt.Errorf("GPIO DE low failed: %w", err)
	}
	return nil
}

func (r *RS485Port) Name() string {
	return r.cfg.Name
}

// txDuration 在 38400 波特率下发送 n 字节所需时间
func txDuration(n int) time.Duration {
	return time.Duration(n*bitsPerByte) * time.Second / Baudrate
}

// -------- GPIO 辅助函数 --------
func exportGPIO(pin int) error {
	f, err := os.OpenFile(filepath.Join(gpioRoot, "export"), os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _ = f.WriteString(fmt.Sprint(pin)) // 若已导出则忽略错误
	return nil
}

func setGPIODirection(pin int, dir string) error {
	path := filepath.Join(gpioRoot, fmt.Sprintf("gpio%d", pin), "direction")
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(dir)
	return err
}

func openGPIOValue(pin int) (*os.File, error) {
	path := filepath.Join(gpioRoot, fmt.Sprintf("gpio%d", pin), "value")
	return os.OpenFile(path, os.O_RDWR, 0)
}
