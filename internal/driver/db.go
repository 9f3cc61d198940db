package driver

import (
	"sync"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/linjuya-lu/device_vdcp_go/internal/vdcp"
)

// DB 是一个简单的内存存储：DeviceName(端口名) → 最新状态快照。
// 串口循环通过 Report 写入，读命令、状态接口从这里读取。
type DB struct {
	mu    sync.RWMutex
	store map[string]vdcp.Snapshot
}

// NewDB 返回一个新建的空 DB
func NewDB() *DB {
	return &DB{
		store: make(map[string]vdcp.Snapshot),
	}
}

// Init 清空所有数据，准备使用
func (d *DB) Init() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store = make(map[string]vdcp.Snapshot)
}

// Report 保存一个端口的最新快照，实现 serial.Reporter
func (d *DB) Report(portName string, snap vdcp.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store == nil {
		return
	}
	d.store[portName] = copySnapshot(snap)
}

// Snapshot 实现 web.StatusSource
func (d *DB) Snapshot(portName string) (vdcp.Snapshot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap, ok := d.store[portName]
	if !ok {
		return vdcp.Snapshot{}, false
	}
	return copySnapshot(snap), true
}

// Get 同 Snapshot，找不到时返回 EdgeX 错误
func (d *DB) Get(deviceName string) (vdcp.Snapshot, error) {
	snap, ok := d.Snapshot(deviceName)
	if !ok {
		return vdcp.Snapshot{}, errors.NewCommonEdgeX(
			errors.KindEntityDoesNotExist,
			"device not found",
			nil,
		)
	}
	return snap, nil
}

// DeleteDevice 删除一个端口的快照
func (d *DB) DeleteDevice(deviceName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.store, deviceName)
}

// Close 清理底层存储，之后的 Report 被忽略
func (d *DB) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store = nil
}

func copySnapshot(s vdcp.Snapshot) vdcp.Snapshot {
	s.Durations = append([]uint16(nil), s.Durations...)
	return s
}
