package relay

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/linjuya-lu/device_vdcp_go/internal/config"
	"github.com/linjuya-lu/device_vdcp_go/internal/metrics"
)

// Output 模块号 + 数字量输出通道
type Output struct {
	Module uint8
	Pin    uint8
}

// CommandMapping VDCP 端口号 → 输出通道
type CommandMapping map[uint8]Output

// ModuleIPs 模块号 → IPv4
type ModuleIPs map[uint8]net.IP

// NewCommandMapping 由配置里的 Outputs 构造映射
func NewCommandMapping(outputs []config.Output) CommandMapping {
	m := make(CommandMapping, len(outputs))
	for _, o := range outputs {
		m[o.Port] = Output{Module: o.Module, Pin: o.Pin}
	}
	return m
}

// NewModuleIPs 由配置里的 Modules 构造地址表，无法解析的地址记录错误后跳过
func NewModuleIPs(lc logger.LoggingClient, modules []config.Module) ModuleIPs {
	ips := make(ModuleIPs, len(modules))
	for _, m := range modules {
		ip := net.ParseIP(strings.TrimSpace(m.IP)).To4()
		if ip == nil {
			lc.Errorf("module %d has invalid IPv4 address %q, its outputs will not be driven", m.ID, m.IP)
			continue
		}
		ips[m.ID] = ip
	}
	return ips
}

// Target 一次触发最终落到的端口和通道
type Target struct {
	Port uint8
	Pin  uint8
}

// Request 发往一个模块的一次脉冲
type Request struct {
	Module  uint8
	URL     string
	Form    url.Values
	Targets []Target
}

func moduleURL(ip net.IP) string {
	return fmt.Sprintf("http://%s/digitaloutput/all/value", ip)
}

// checkConfig 映射到没有 IP 的模块只记录错误，不阻止启动
func checkConfig(lc logger.LoggingClient, mapping CommandMapping, ips ModuleIPs) int {
	problems := 0
	ports := make([]int, 0, len(mapping))
	for p := range mapping {
		ports = append(ports, int(p))
	}
	sort.Ints(ports)
	for _, p := range ports {
		out := mapping[uint8(p)]
		if _, ok := ips[out.Module]; !ok {
			lc.Errorf("the module %d for port %d doesn't have an ip listed in the module ips given %v",
				out.Module, p, ips)
			problems++
		}
	}
	return problems
}

// makeRequests 把一个窗口内的触发按模块分组，每个模块一条请求，同一通道只出现一次
func makeRequests(lc logger.LoggingClient, ports []uint8, mapping CommandMapping, ips ModuleIPs) []Request {
	sorted := make([]uint8, len(ports))
	copy(sorted, ports)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	groups := make(map[uint8][]Target)
	for i, p := range sorted {
		if i > 0 && sorted[i-1] == p {
			continue
		}
		out, ok := mapping[p]
		if !ok {
			err := errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
				fmt.Sprintf("port %d did not have an associated output", p), nil)
			lc.Errorf("%v. Not sending a play request", err)
			metrics.RecordDropped("unmapped_port")
			continue
		}
		groups[out.Module] = append(groups[out.Module], Target{Port: p, Pin: out.Pin})
	}

	modules := make([]int, 0, len(groups))
	for m := range groups {
		modules = append(modules, int(m))
	}
	sort.Ints(modules)

	reqs := make([]Request, 0, len(modules))
	for _, m := range modules {
		mod := uint8(m)
		ip, ok := ips[mod]
		if !ok {
			err := errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
				fmt.Sprintf("module %d didn't have an ip address listed", mod), nil)
			lc.Errorf("%v. Not sending play request", err)
			metrics.RecordDropped("no_module_ip")
			continue
		}
		form := url.Values{}
		for _, t := range groups[mod] {
			form.Set(fmt.Sprintf("DO%d", t.Pin), "1")
		}
		reqs = append(reqs, Request{
			Module:  mod,
			URL:     moduleURL(ip),
			Form:    form,
			Targets: groups[mod],
		})
	}
	return reqs
}
