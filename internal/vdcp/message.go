// Package vdcp 实现 VDCP 串口协议的帧编解码、命令表和每个端口的状态机。
//
// 帧格式:
//
//	[0x02][byte_count][command1][command_code][data...][checksum]
//
// byte_count 统计 command1、command_code 和 data；command1 低 4 位是子地址，
// 高 4 位是命令类型。类型 0/1/2 的命令只回一个 ACK(04h)/NAK(05h)，
// 其余类型回一个完整帧，command_code 的最高位置 1。
package vdcp

import "fmt"

const (
	STX byte = 0x02
	ACK byte = 0x04
	NAK byte = 0x05
)

// Command1 是一个字节拆成的两个半字节
type Command1 byte

// Address 低 4 位：子系统地址，主机为 0
func (c Command1) Address() uint8 { return uint8(c) & 0x0F }

// Type 高 4 位：命令类型
func (c Command1) Type() uint8 { return uint8(c) >> 4 }

// NewCommand1 由类型和地址拼出 command1 字节
func NewCommand1(typ, addr uint8) Command1 {
	return Command1((typ&0x0F)<<4 | addr&0x0F)
}

// Message 是解码后的一帧
type Message struct {
	ByteCount uint8
	Command1  Command1
	Code      uint8
	Data      []byte
	Checksum  uint8 // 只读出，不校验
}

func (m Message) String() string {
	return fmt.Sprintf("|%02x|%02x[%x/%x]|%02x|% x|%02x|",
		m.ByteCount, byte(m.Command1), m.Command1.Type(), m.Command1.Address(), m.Code, m.Data, m.Checksum)
}

// ResponseKind 区分裸字节回复和需要组帧的回复
type ResponseKind int

const (
	// Simple 原样发送（ACK/NAK）
	Simple ResponseKind = iota
	// Framed 作为 data 组成一帧发送
	Framed
)

type Response struct {
	Kind ResponseKind
	Data []byte
}

func SimpleResponse(b ...byte) Response { return Response{Kind: Simple, Data: b} }
func FramedResponse(b ...byte) Response { return Response{Kind: Framed, Data: b} }

var (
	ackResponse = []byte{ACK}
	nakResponse = []byte{NAK, 0x01}
)

// Ack 单字节 ACK
func Ack() Response { return SimpleResponse(ackResponse...) }

// Nak 未识别命令的回复
func Nak() Response { return SimpleResponse(nakResponse...) }
