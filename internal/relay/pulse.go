package relay

import (
	"fmt"
	"net/url"
	"time"

	"github.com/linjuya-lu/device_vdcp_go/internal/metrics"
)

// 模块固定账号
const (
	username = "root"
	password = "admin"
)

// PlayEvent 一次脉冲的结果，按触发端口逐条上报
type PlayEvent struct {
	Port    uint8     `json:"port"`
	Module  uint8     `json:"module"`
	Pin     uint8     `json:"pin"`
	URL     string    `json:"url"`
	Success bool      `json:"success"`
	Time    time.Time `json:"time"`
}

// Publisher 接收脉冲结果，例如转发到 MQTT
type Publisher interface {
	PublishPlay(ev PlayEvent) error
}

// flip 把表单里的 1/0 互换；出现其它值时返回错误
func flip(form url.Values) (url.Values, error) {
	out := make(url.Values, len(form))
	for k, vs := range form {
		flipped := make([]string, len(vs))
		for i, v := range vs {
			switch v {
			case "1":
				flipped[i] = "0"
			case "0":
				flipped[i] = "1"
			default:
				return nil, fmt.Errorf("value %q of %s is not 0 or 1", v, k)
			}
		}
		out[k] = flipped
	}
	return out, nil
}

// pulse 先置位，等 pulseOff 后复位。在 pool 的 worker 里执行，错误只记录不返回
func (r *Relay) pulse(req Request) {
	ok := r.send(req.URL, req.Form)
	time.Sleep(r.pulseOff)

	off, err := flip(req.Form)
	if err != nil {
		r.lc.Errorf("Couldn't flip form %v for %s: %v. Resending it unchanged", req.Form, req.URL, err)
		off = req.Form
	}
	ok = r.send(req.URL, off) && ok

	metrics.RecordPulse(req.Module, ok)
	r.publish(req, ok)
}

func (r *Relay) send(addr string, form url.Values) bool {
	resp, err := r.client.R().SetFormDataFromValues(form).Post(addr)
	if err != nil {
		r.lc.Errorf("Request %s|%v to set digital outputs failed: %v", addr, form, err)
		return false
	}
	if !resp.IsSuccess() {
		r.lc.Errorf("Request %s|%v to set digital outputs failed, response: %s %s",
			addr, form, resp.Status(), resp.String())
		return false
	}
	r.lc.Infof("Request %s|%v to set digital outputs success. Response: %s", addr, form, resp.Status())
	return true
}

// publish 不阻塞地把结果交给发布 goroutine
func (r *Relay) publish(req Request, ok bool) {
	if r.publisher == nil {
		return
	}
	now := r.now()
	for _, t := range req.Targets {
		ev := PlayEvent{
			Port:    t.Port,
			Module:  req.Module,
			Pin:     t.Pin,
			URL:     req.URL,
			Success: ok,
			Time:    now,
		}
		select {
		case r.events <- ev:
		default:
			r.lc.Warnf("play event queue full, dropping event for port %d", t.Port)
			metrics.RecordDropped("event_queue_full")
		}
	}
}
