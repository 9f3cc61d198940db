package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/linjuya-lu/device_vdcp_go/internal/config"
	"github.com/linjuya-lu/device_vdcp_go/internal/relay"
)

// DefaultPublishTimeout 等待 broker 确认一次发布的上限
const DefaultPublishTimeout = 5 * time.Second

// ClientOptions 配置 MQTT 客户端行为
// Broker: tcp://host:port
// PlayTopic: 脉冲结果发布的主题
type ClientOptions struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	PlayTopic      string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	DefaultQos     byte
	DefaultRetain  bool
}

// OptionsFrom 由服务配置生成客户端参数
func OptionsFrom(cfg config.MQTT) ClientOptions {
	return ClientOptions{
		Broker:         cfg.Broker,
		ClientID:       cfg.ClientID,
		Username:       cfg.Username,
		Password:       cfg.Password,
		PlayTopic:      cfg.PlayTopic,
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 10 * time.Second,
		PublishTimeout: DefaultPublishTimeout,
		DefaultQos:     1,
	}
}

// Client 封装 Paho MQTT 客户端：发布播放事件，订阅素材时长更新
type Client struct {
	lc    logger.LoggingClient
	inner paho.Client
	opts  ClientOptions
}

// NewClient 创建一个新的 MQTT 客户端并连接到 Broker，断线自动重连
func NewClient(lc logger.LoggingClient, opts ClientOptions) (*Client, error) {
	p := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetKeepAlive(opts.KeepAlive).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if opts.Username != "" {
		p.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		p.SetPassword(opts.Password)
	}
	c := &Client{lc: lc, opts: opts}
	c.inner = paho.NewClient(p)
	tok := c.inner.Connect()
	if !tok.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout after %s", opts.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect failed: %w", err)
	}
	lc.Infof("connected to MQTT broker %s as %s", opts.Broker, opts.ClientID)
	return c, nil
}

// PublishPlay 把一次脉冲结果包成 EdgeX 消息发布到 PlayTopic
func (c *Client) PublishPlay(ev relay.PlayEvent) error {
	body, err := encodePlay(c.opts.PlayTopic, ev)
	if err != nil {
		return fmt.Errorf("marshal play event: %w", err)
	}
	timeout := c.opts.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	tok := c.inner.Publish(c.opts.PlayTopic, c.opts.DefaultQos, c.opts.DefaultRetain, body)
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s timed out after %s", c.opts.PlayTopic, timeout)
	}
	return tok.Error()
}

// SubscribeDurations 订阅素材时长更新，无法解析的消息记录后丢弃
func (c *Client) SubscribeDurations(topic string, handler func(DurationUpdate)) error {
	tok := c.inner.Subscribe(topic, c.opts.DefaultQos, durationsHandler(c.lc, handler))
	if !tok.WaitTimeout(c.opts.ConnectTimeout) {
		return fmt.Errorf("subscribe to %s timed out after %s", topic, c.opts.ConnectTimeout)
	}
	return tok.Error()
}

func durationsHandler(lc logger.LoggingClient, handler func(DurationUpdate)) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		upd, err := decodeDurations(m.Payload())
		if err != nil {
			lc.Warnf("dropping clip times from %s: %v", m.Topic(), err)
			return
		}
		handler(upd)
	}
}

// Disconnect 断开与 Broker 的连接
func (c *Client) Disconnect(quiesce uint) {
	c.inner.Disconnect(quiesce)
}
