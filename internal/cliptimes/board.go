// Package cliptimes 保存每个 VDCP 端口的素材时长更新队列。
// 网页、MQTT、EdgeX 写命令都是生产者，串口循环是唯一的消费者。
package cliptimes

import (
	"errors"
	"fmt"
)

// QueueSize 每个端口最多缓存的批次数，满了丢最旧的
const QueueSize = 4

var ErrUnknownPort = errors.New("cliptimes: unknown port")

type Board struct {
	queues []chan []uint16
	names  map[string]int
}

// NewBoard 按配置顺序为每个端口建一个队列，下标即端口序号
func NewBoard(portNames []string) *Board {
	b := &Board{
		queues: make([]chan []uint16, len(portNames)),
		names:  make(map[string]int, len(portNames)),
	}
	for i, n := range portNames {
		b.queues[i] = make(chan []uint16, QueueSize)
		b.names[n] = i
	}
	return b
}

func (b *Board) Len() int { return len(b.queues) }

// IndexOf 端口名 → 序号
func (b *Board) IndexOf(name string) (int, bool) {
	i, ok := b.names[name]
	return i, ok
}

// Queue 返回端口的接收端，给串口循环用
func (b *Board) Queue(index int) <-chan []uint16 {
	if index < 0 || index >= len(b.queues) {
		return nil
	}
	return b.queues[index]
}

// Push 投递一批时长，从不阻塞。队列满时丢掉最旧的一批再投递。
func (b *Board) Push(index int, times []uint16) error {
	if index < 0 || index >= len(b.queues) {
		return fmt.Errorf("%w: %d", ErrUnknownPort, index)
	}
	batch := make([]uint16, len(times))
	copy(batch, times)
	q := b.queues[index]
	for {
		select {
		case q <- batch:
			return nil
		default:
		}
		select {
		case <-q:
		default:
		}
	}
}

// PushByName 同 Push，按端口名查找
func (b *Board) PushByName(name string, times []uint16) error {
	i, ok := b.IndexOf(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPort, name)
	}
	return b.Push(i, times)
}

// Latest 非阻塞地取出队列里所有批次，只返回最新的一批
func Latest(q <-chan []uint16) ([]uint16, bool) {
	var (
		last []uint16
		got  bool
	)
	for {
		select {
		case batch := <-q:
			last, got = batch, true
		default:
			return last, got
		}
	}
}
