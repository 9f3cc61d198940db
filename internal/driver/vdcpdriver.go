// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2019-2023 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package driver provides an implementation of a ProtocolDriver interface.
package driver

import (
	"fmt"
	"os"
	"sync"

	"github.com/edgexfoundry/device-sdk-go/v4/pkg/interfaces"
	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/models"
	"github.com/linjuya-lu/device_vdcp_go/internal/config"
	"github.com/linjuya-lu/device_vdcp_go/internal/vdcp"
)

// Version 由构建时 -ldflags 覆盖
var Version = "0.0.0"

const (
	// ConfigEnv 指定 VDCP 配置文件路径的环境变量
	ConfigEnv         = "VDCP_CONFIG"
	DefaultConfigPath = "./res/vdcp.yaml"
)

type VDCPDriver struct {
	lc      logger.LoggingClient
	asyncCh chan<- *dsModels.AsyncValues
	locker  sync.Mutex
	sdk     interfaces.DeviceServiceSDK
	db      *DB
	bridge  *bridge
}

var once sync.Once
var driver *VDCPDriver

func NewVDCPDriver() interfaces.ProtocolDriver {
	once.Do(func() {
		driver = &VDCPDriver{db: NewDB()}
	})
	return driver
}

func configPath() string {
	if p := os.Getenv(ConfigEnv); p != "" {
		return p
	}
	return DefaultConfigPath
}

func (d *VDCPDriver) Initialize(sdk interfaces.DeviceServiceSDK) error {
	d.sdk = sdk
	d.lc = sdk.LoggingClient()
	d.asyncCh = sdk.AsyncValuesChannel()
	d.db.Init()

	path := configPath()
	if err := config.LoadConfig(path); err != nil {
		return fmt.Errorf("failed to load VDCP config: %w", err)
	}
	d.lc.Infof("loaded VDCP config from %s: %d ports, %d outputs, %d modules",
		path, len(config.Cfg.Ports), len(config.Cfg.Outputs), len(config.Cfg.Modules))

	return d.initBridge(newBridge(d.lc, config.Cfg))
}

func (d *VDCPDriver) initBridge(b *bridge) error {
	if err := b.setup(d.db, d); err != nil {
		return fmt.Errorf("failed to set up VDCP bridge: %w", err)
	}
	d.bridge = b
	return nil
}

func (d *VDCPDriver) Start() error {
	d.bridge.start()
	d.lc.Infof("VDCP emulator started on %d serial ports", len(d.bridge.loops))
	return nil
}

// Report 更新 DB；端口播放状态变化时异步上报 PortStatus。
// 在串口循环里调用，上报通道满时直接丢弃，不阻塞循环。
func (d *VDCPDriver) Report(portName string, snap vdcp.Snapshot) {
	prev, had := d.db.Snapshot(portName)
	d.db.Report(portName, snap)
	if d.asyncCh == nil || (had && prev.Status == snap.Status) {
		return
	}
	cv, err := readResource(snap, ResourcePortStatus)
	if err != nil {
		d.lc.Errorf("failed building %s value for %s: %v", ResourcePortStatus, portName, err)
		return
	}
	av := &dsModels.AsyncValues{
		DeviceName:    portName,
		SourceName:    ResourcePortStatus,
		CommandValues: []*dsModels.CommandValue{cv},
	}
	select {
	case d.asyncCh <- av:
	default:
		d.lc.Warnf("async channel full, dropping %s of %s", ResourcePortStatus, portName)
	}
}

func (d *VDCPDriver) HandleReadCommands(deviceName string, protocols map[string]models.ProtocolProperties, reqs []dsModels.CommandRequest) ([]*dsModels.CommandValue, error) {
	d.locker.Lock()
	defer d.locker.Unlock()

	snap, err := d.db.Get(deviceName)
	if err != nil {
		return nil, fmt.Errorf("读取设备 %s 失败: %w", deviceName, err)
	}
	res := make([]*dsModels.CommandValue, len(reqs))
	for i, req := range reqs {
		cv, err := readResource(snap, req.DeviceResourceName)
		if err != nil {
			return nil, fmt.Errorf("读取设备 %s 资源 %s 失败: %w", deviceName, req.DeviceResourceName, err)
		}
		res[i] = cv
		d.lc.Debugf("读取值: %s.%s = %v", deviceName, req.DeviceResourceName, cv.Value)
	}
	return res, nil
}

func (d *VDCPDriver) HandleWriteCommands(deviceName string, protocols map[string]models.ProtocolProperties, reqs []dsModels.CommandRequest,
	params []*dsModels.CommandValue) error {
	d.locker.Lock()
	defer d.locker.Unlock()

	for _, param := range params {
		if err := writeResource(d.bridge.board, deviceName, param); err != nil {
			return fmt.Errorf("写入设备 %s 资源 %s 失败: %w", deviceName, param.DeviceResourceName, err)
		}
		d.lc.Infof("写入值: %s.%s = %v", deviceName, param.DeviceResourceName, param.Value)
	}
	return nil
}

func (d *VDCPDriver) Stop(force bool) error {
	d.lc.Info("VDCPDriver.Stop: device-vdcp driver is stopping...")
	var err error
	if d.bridge != nil {
		err = d.bridge.stop()
	}
	d.db.Close()
	return err
}

func (d *VDCPDriver) AddDevice(deviceName string, protocols map[string]models.ProtocolProperties, adminState models.AdminState) error {
	d.lc.Debugf("a new Device is added: %s", deviceName)
	return nil
}

func (d *VDCPDriver) UpdateDevice(deviceName string, protocols map[string]models.ProtocolProperties, adminState models.AdminState) error {
	d.lc.Debugf("Device %s is updated", deviceName)
	return nil
}

func (d *VDCPDriver) RemoveDevice(deviceName string, protocols map[string]models.ProtocolProperties) error {
	d.lc.Debugf("Device %s is removed", deviceName)
	return nil
}

// Discover 串口没有自动发现
func (d *VDCPDriver) Discover() error {
	return fmt.Errorf("driver's Discover function isn't implemented")
}

// ValidateDevice 设备名必须是配置里的某个端口名
func (d *VDCPDriver) ValidateDevice(device models.Device) error {
	if _, ok := config.GetPort(device.Name); !ok {
		return fmt.Errorf("device %s is not a configured VDCP port", device.Name)
	}
	return nil
}
