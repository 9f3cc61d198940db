package driver

import (
	"fmt"

	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/linjuya-lu/device_vdcp_go/internal/cliptimes"
	"github.com/linjuya-lu/device_vdcp_go/internal/vdcp"
)

// 设备资源名，与 device profile 保持一致
const (
	ResourcePortStatus    = "PortStatus"
	ResourcePortNumber    = "PortNumber"
	ResourceCuedClip      = "CuedClip"
	ResourceClipStatus    = "ClipStatus"
	ResourceClipDurations = "ClipDurations"
)

// readResource 把快照里的一个字段封装成 CommandValue
func readResource(snap vdcp.Snapshot, resourceName string) (*dsModels.CommandValue, error) {
	switch resourceName {
	case ResourcePortStatus:
		return dsModels.NewCommandValue(resourceName, common.ValueTypeString, snap.Status.String())
	case ResourcePortNumber:
		return dsModels.NewCommandValue(resourceName, common.ValueTypeUint8, snap.Number)
	case ResourceCuedClip:
		return dsModels.NewCommandValue(resourceName, common.ValueTypeString, snap.CuedClip)
	case ResourceClipStatus:
		return dsModels.NewCommandValue(resourceName, common.ValueTypeString, snap.ClipStatus.String())
	case ResourceClipDurations:
		durations := snap.Durations
		if durations == nil {
			durations = []uint16{}
		}
		return dsModels.NewCommandValue(resourceName, common.ValueTypeUint16Array, durations)
	default:
		return nil, errors.NewCommonEdgeX(
			errors.KindEntityDoesNotExist,
			fmt.Sprintf("resource %s not found", resourceName),
			nil,
		)
	}
}

// writeResource 只有 ClipDurations 可写，写入后交给串口循环在下一轮取走
func writeResource(board *cliptimes.Board, deviceName string, param *dsModels.CommandValue) error {
	if param.DeviceResourceName != ResourceClipDurations {
		return errors.NewCommonEdgeX(
			errors.KindContractInvalid,
			fmt.Sprintf("resource %s is read-only", param.DeviceResourceName),
			nil,
		)
	}
	times, err := param.Uint16ArrayValue()
	if err != nil {
		return errors.NewCommonEdgeX(errors.KindContractInvalid, "invalid clip durations", err)
	}
	if err := board.PushByName(deviceName, times); err != nil {
		return errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, "device not found", err)
	}
	return nil
}
