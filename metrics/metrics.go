// Package metrics 记录后端操作和 HTTP 请求：操作计数直接写入 Prometheus registry，
// HTTP 指标和链路追踪基于 OpenTelemetry，指标经 Prometheus exporter 导出。
package metrics

import (
	"context"
	"errors"

	"github.com/ceyewan/queuekit/backend"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "queuekit"

type hookCollectors struct {
	operations *prometheus.CounterVec
	gets       *prometheus.CounterVec
	completed  *prometheus.CounterVec
}

// register 注册指标；同名指标已注册时复用已有的
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func newHookCollectors(reg prometheus.Registerer) (*hookCollectors, error) {
	operations, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Backend operations started, by operation.",
	}, []string{"backend", "queue", "op"}))
	if err != nil {
		return nil, err
	}
	gets, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "get_results_total",
		Help:      "Completed get/pop/peek operations, by result.",
	}, []string{"backend", "queue", "result"}))
	if err != nil {
		return nil, err
	}
	completed, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clear_release_total",
		Help:      "Completed clear and release operations.",
	}, []string{"backend", "queue"}))
	if err != nil {
		return nil, err
	}
	return &hookCollectors{operations: operations, gets: gets, completed: completed}, nil
}

// hooks 实现 backend.Hooks，只记录不拦截
type hooks struct {
	backend.NopHooks
	c           *hookCollectors
	backendName string
	queue       string
}

// NewHooks 返回记录 Prometheus 指标的 Hooks，同一 registry 可多次调用
func NewHooks(reg prometheus.Registerer, backendName, queue string) (backend.Hooks, error) {
	c, err := newHookCollectors(reg)
	if err != nil {
		return nil, err
	}
	return &hooks{c: c, backendName: backendName, queue: queue}, nil
}

func (h *hooks) op(name string) {
	h.c.operations.WithLabelValues(h.backendName, h.queue, name).Inc()
}

func (h *hooks) BeforeAdd(context.Context, string) error {
	h.op("add")
	return nil
}

func (h *hooks) BeforeGet(context.Context, string) error {
	h.op("get")
	return nil
}

func (h *hooks) BeforeClear(context.Context, string) error {
	h.op("clear")
	return nil
}

func (h *hooks) BeforeRelease(context.Context, string) error {
	h.op("release")
	return nil
}

func (h *hooks) AfterGet(_ context.Context, _ string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	h.c.gets.WithLabelValues(h.backendName, h.queue, result).Inc()
}

func (h *hooks) AfterClearRelease(context.Context, string) {
	h.c.completed.WithLabelValues(h.backendName, h.queue).Inc()
}
