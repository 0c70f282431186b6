package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ceyewan/queuekit/clog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName OpenTelemetry 埋点名称
const InstrumentationName = "github.com/ceyewan/queuekit/metrics"

// TracingConfig 链路追踪配置
type TracingConfig struct {
	// ServiceName 上报的服务名
	ServiceName string `json:"serviceName" yaml:"serviceName"`

	// Exporter span 导出方式: "none", "stdout"
	Exporter string `json:"exporter" yaml:"exporter"`

	// SampleRatio 采样比例，取值 [0, 1]
	SampleRatio float64 `json:"sampleRatio" yaml:"sampleRatio"`
}

// DefaultTracingConfig 返回默认配置：全量采样，不导出
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{ServiceName: "queuekit", Exporter: "none", SampleRatio: 1}
}

// Validate 检查导出方式和采样比例
func (c *TracingConfig) Validate() error {
	switch c.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("unsupported trace exporter %q", c.Exporter)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("sampleRatio must be within [0, 1], got %v", c.SampleRatio)
	}
	return nil
}

// Provider 封装 TracerProvider 和 MeterProvider。
// 传入 registry 时，OpenTelemetry 指标经 Prometheus exporter 写入该 registry
type Provider struct {
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	reg    *prometheus.Registry
	tracer trace.Tracer
	logger clog.Logger

	httpRequests metric.Int64Counter
	httpDuration metric.Float64Histogram
}

// NewProvider 创建 Provider。reg 为 nil 时只创建不导出的 MeterProvider；
// opts 追加到 TracerProvider 的选项之后
func NewProvider(cfg TracingConfig, reg *prometheus.Registry, opts ...sdktrace.TracerProviderOption) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "queuekit"
	}
	logger := clog.Module("metrics.provider")

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}
	if cfg.Exporter == "stdout" {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(append(tpOpts, opts...)...)

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if reg != nil {
		exporter, err := otelprom.New(otelprom.WithRegisterer(reg), otelprom.WithoutTargetInfo())
		if err != nil {
			_ = tp.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(exporter))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)

	meter := mp.Meter(InstrumentationName)
	requests, err := meter.Int64Counter("queuekit.http.server.requests",
		metric.WithDescription("Number of HTTP requests received."))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("queuekit.http.server.duration",
		metric.WithDescription("Duration of HTTP requests in seconds."), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	logger.Info("metrics provider 初始化完成",
		clog.String("service_name", cfg.ServiceName),
		clog.String("exporter", cfg.Exporter),
		clog.Float64("sample_ratio", cfg.SampleRatio),
		clog.Bool("prometheus", reg != nil))
	return &Provider{
		tp:           tp,
		mp:           mp,
		reg:          reg,
		tracer:       tp.Tracer(InstrumentationName),
		logger:       logger,
		httpRequests: requests,
		httpDuration: duration,
	}, nil
}

// TracerProvider 返回底层 TracerProvider，可用于设置全局 provider
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tp
}

// Handler 返回 /metrics 的 HTTP 处理器，未配置 registry 时返回 404
func (p *Provider) Handler() http.Handler {
	if p.reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

// Shutdown 刷新并关闭 TracerProvider 和 MeterProvider
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if err := p.tp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
	}
	if err := p.mp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.Error("metrics provider 关闭失败", clog.Err(err))
		return err
	}
	p.logger.Info("metrics provider 已关闭")
	return nil
}

// HTTPMiddleware 返回 gin 中间件：为每个请求创建服务端 span，并记录请求数和耗时
func (p *Provider) HTTPMiddleware() gin.HandlerFunc {
	propagator := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		spanCtx, span := p.tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethodKey.String(c.Request.Method),
				semconv.HTTPRouteKey.String(route),
			))
		defer span.End()

		c.Request = c.Request.WithContext(spanCtx)
		start := time.Now()
		c.Next()
		status := c.Writer.Status()

		attrs := attribute.NewSet(
			semconv.HTTPMethodKey.String(c.Request.Method),
			semconv.HTTPRouteKey.String(route),
			semconv.HTTPStatusCodeKey.Int(status),
		)
		p.httpRequests.Add(spanCtx, 1, metric.WithAttributeSet(attrs))
		p.httpDuration.Record(spanCtx, time.Since(start).Seconds(), metric.WithAttributeSet(attrs))

		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(otelcodes.Error, http.StatusText(status))
		}
		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last().Err)
		}
	}
}
