package vdcp

import "time"

// PortStatus 端口播放状态，取值就是 port_status 回复里的线上编码
type PortStatus uint8

const (
	Idle    PortStatus = 0x01
	Cued    PortStatus = 0x80
	Playing PortStatus = 0x04
)

func (s PortStatus) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Cued:
		return "Cued"
	case Playing:
		return "Playing"
	default:
		return "Unknown"
	}
}

// ClipStatus system_status 里报告的素材状态
type ClipStatus uint8

const (
	Clips   ClipStatus = 0x1f
	NoClips ClipStatus = 0x00
)

func (s ClipStatus) String() string {
	if s == NoClips {
		return "NoClips"
	}
	return "Clips"
}

// DefaultFreshness 收到时长更新后保持 NoClips 的时间
const DefaultFreshness = 20 * time.Second

// PortState 单个串口的协议状态，只由该端口的循环持有和修改，不加锁
type PortState struct {
	Number     uint8
	Status     PortStatus
	ClipStatus ClipStatus
	Cued       int
	ClipNames  [][]byte

	triggers  chan<- uint8
	freshness time.Duration
	deadline  time.Time
}

// NewPortState triggers 为 play 命令上报端口号的通道，可为 nil
func NewPortState(number uint8, clipNames [][]byte, triggers chan<- uint8) *PortState {
	return &PortState{
		Number:     number,
		Status:     Idle,
		ClipStatus: Clips,
		ClipNames:  clipNames,
		triggers:   triggers,
		freshness:  DefaultFreshness,
	}
}

// SetFreshness 修改 NoClips 的保持时间
func (s *PortState) SetFreshness(d time.Duration) {
	if d > 0 {
		s.freshness = d
	}
}

// CuedClip 当前 cue 指针指向的素材名
func (s *PortState) CuedClip() []byte {
	if len(s.ClipNames) == 0 {
		return nil
	}
	return s.ClipNames[s.Cued]
}

// Advance stop 之后把 cue 指针移到下一个素材，到尾部回绕
func (s *PortState) Advance() {
	if len(s.ClipNames) == 0 {
		s.Cued = 0
		return
	}
	s.Cued = (s.Cued + 1) % len(s.ClipNames)
}

// MarkDurationsUpdated 收到一批新时长：报告 NoClips 并重新计时
func (s *PortState) MarkDurationsUpdated(now time.Time) {
	s.ClipStatus = NoClips
	s.deadline = now.Add(s.freshness)
}

// CheckFreshness 到期后恢复 Clips，返回状态是否改变
func (s *PortState) CheckFreshness(now time.Time) bool {
	if s.ClipStatus == NoClips && !now.Before(s.deadline) {
		s.ClipStatus = Clips
		return true
	}
	return false
}

// Snapshot 状态的只读拷贝，供其它 goroutine 读取
type Snapshot struct {
	Number     uint8
	Status     PortStatus
	ClipStatus ClipStatus
	Cued       int
	CuedClip   string
	Durations  []uint16
}

func (s *PortState) Snapshot(durations []uint16) Snapshot {
	d := make([]uint16, len(durations))
	copy(d, durations)
	return Snapshot{
		Number:     s.Number,
		Status:     s.Status,
		ClipStatus: s.ClipStatus,
		Cued:       s.Cued,
		CuedClip:   string(s.CuedClip()),
		Durations:  d,
	}
}
