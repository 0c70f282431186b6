// Package idgen 为出队的任务生成雪花 ID。
package idgen

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/ceyewan/queuekit/clog"
)

// Generator 雪花算法 ID 生成器
type Generator struct {
	node   *snowflake.Node
	nodeID int64
	logger clog.Logger
}

var (
	defaultGenerator     *Generator
	defaultGeneratorOnce sync.Once
)

// Default 返回全局默认生成器，首次调用时懒加载
func Default() *Generator {
	defaultGeneratorOnce.Do(func() {
		g, err := New(DefaultConfig())
		if err != nil {
			clog.Module("idgen").Warn("创建默认 ID 生成器失败，回退到节点 1", clog.Err(err))
			g, _ = New(Config{NodeID: 1})
		}
		defaultGenerator = g
	})
	return defaultGenerator
}

// New 根据配置创建生成器
func New(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid idgen config: %w", err)
	}

	logger := clog.Module("idgen")
	nodeID := cfg.NodeID
	if cfg.AutoNodeID {
		nodeID = nodeIDFromIP(logger)
	}

	// snowflake.Epoch 是包级变量，只在创建节点前设置
	if cfg.Epoch > 0 {
		snowflake.Epoch = cfg.Epoch
	}

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node with id %d: %w", nodeID, err)
	}

	logger.Debug("雪花算法节点初始化成功", clog.Int64("node_id", nodeID))
	return &Generator{node: node, nodeID: nodeID, logger: logger}, nil
}

// NextID 生成字符串形式的 ID
func (g *Generator) NextID() string {
	return g.node.Generate().String()
}

// NextInt64 生成 int64 形式的 ID
func (g *Generator) NextInt64() int64 {
	return g.node.Generate().Int64()
}

// NodeID 返回当前节点 ID
func (g *Generator) NodeID() int64 {
	return g.nodeID
}

// ParseID 解析字符串 ID，返回毫秒时间戳、节点 ID 和序列号
func ParseID(id string) (timestamp, nodeID, sequence int64, err error) {
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid snowflake id %q: %w", id, err)
	}
	sf := snowflake.ParseInt64(v)
	return sf.Time(), sf.Node(), sf.Step(), nil
}

// nodeIDFromIP 使用本机 IPv4 地址的最后一个字节作为节点 ID
func nodeIDFromIP(logger clog.Logger) int64 {
	ip, err := localIPv4()
	if err != nil {
		logger.Warn("获取本机 IP 失败，使用默认节点 ID", clog.Int64("default_node_id", 1), clog.Err(err))
		return 1
	}
	return int64(ip[3])
}

// localIPv4 获取本机首个非环回 IPv4 地址
func localIPv4() (net.IP, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip := ipNet.IP.To4(); ip != nil && !ip.IsLoopback() {
				return ip, nil
			}
		}
	}
	return nil, errors.New("no valid local IP address found")
}
