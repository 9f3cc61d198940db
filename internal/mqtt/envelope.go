package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
	"github.com/google/uuid"
	"github.com/linjuya-lu/device_vdcp_go/internal/relay"
)

// EdgexMessage 是 EdgeX MessageBus 的通用消息格式
type EdgexMessage struct {
	ApiVersion    string      `json:"apiVersion"`
	ReceivedTopic string      `json:"receivedTopic,omitempty"`
	CorrelationID string      `json:"correlationID"`
	RequestID     string      `json:"requestID"`
	ErrorCode     int         `json:"errorCode"`
	Payload       interface{} `json:"payload,omitempty"`
	ContentType   string      `json:"contentType"`
}

// PlayPayload payload 部分
type PlayPayload struct {
	Port      uint8  `json:"port"`
	Module    uint8  `json:"module"`
	Pin       uint8  `json:"pin"`
	URL       string `json:"url"`
	Success   bool   `json:"success"`
	Timestamp int64  `json:"timestamp"` // Unix 纳秒
}

// DurationUpdate 一个端口的新素材时长（秒）
type DurationUpdate struct {
	Port  int      `json:"port"`
	Times []uint16 `json:"times"`
}

func encodePlay(topic string, ev relay.PlayEvent) ([]byte, error) {
	msg := EdgexMessage{
		ApiVersion:    common.ApiVersion,
		ReceivedTopic: topic,
		CorrelationID: uuid.NewString(),
		RequestID:     uuid.NewString(),
		Payload: PlayPayload{
			Port:      ev.Port,
			Module:    ev.Module,
			Pin:       ev.Pin,
			URL:       ev.URL,
			Success:   ev.Success,
			Timestamp: ev.Time.UnixNano(),
		},
		ContentType: common.ContentTypeJSON,
	}
	return json.Marshal(msg)
}

// decodeDurations 接受裸 {"port":..,"times":[..]}，也接受包在 EdgeX 消息 payload 里的形式
func decodeDurations(b []byte) (DurationUpdate, error) {
	var env struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return DurationUpdate{}, fmt.Errorf("invalid json: %w", err)
	}
	if len(env.Payload) > 0 {
		b = env.Payload
	}
	var upd struct {
		Port  *int     `json:"port"`
		Times []uint16 `json:"times"`
	}
	if err := json.Unmarshal(b, &upd); err != nil {
		return DurationUpdate{}, fmt.Errorf("invalid clip times: %w", err)
	}
	if upd.Port == nil {
		return DurationUpdate{}, errors.New("missing port")
	}
	return DurationUpdate{Port: *upd.Port, Times: upd.Times}, nil
}
