package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ceyewan/queuekit/api"
	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/clog"
	"github.com/ceyewan/queuekit/config"
	"github.com/ceyewan/queuekit/metrics"
	"github.com/ceyewan/queuekit/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// session 一次命令使用的配置和已连接的后端
type session struct {
	cfg     config.Config
	backend backend.Backend
}

// openSession 读取配置、初始化日志并连接后端
func openSession(ctx context.Context, reg prometheus.Registerer) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if err := clog.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	b, err := config.Open(ctx, cfg, reg)
	if err != nil {
		return nil, fmt.Errorf("连接后端失败: %w", err)
	}
	return &session{cfg: cfg, backend: b}, nil
}

func (s *session) Close() {
	if err := s.backend.Close(); err != nil {
		clog.Warn("关闭后端失败", clog.Err(err))
	}
	_ = clog.Sync()
}

// startTelemetry 创建 OpenTelemetry provider 并设为全局 provider
func (s *session) startTelemetry(reg *prometheus.Registry) (*metrics.Provider, error) {
	p, err := metrics.NewProvider(s.cfg.Tracing, reg)
	if err != nil {
		return nil, fmt.Errorf("初始化追踪失败: %w", err)
	}
	otel.SetTracerProvider(p.TracerProvider())
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return p, nil
}

func stopTelemetry(p *metrics.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		clog.Warn("关闭追踪失败", clog.Err(err))
	}
}

func (s *session) queue() (backend.JobQueue, error) {
	q, ok := s.backend.(backend.JobQueue)
	if !ok {
		return nil, fmt.Errorf("%s backend does not support queue operations", s.cfg.Type)
	}
	return q, nil
}

func (s *session) store() (backend.KeyValueStore, error) {
	kv, ok := s.backend.(backend.KeyValueStore)
	if !ok {
		return nil, fmt.Errorf("%s backend does not support key-value operations", s.cfg.Type)
	}
	return kv, nil
}

// withSession 为单次操作创建带超时的上下文和会话
func withSession(run func(ctx context.Context, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		s, err := openSession(ctx, nil)
		if err != nil {
			return err
		}
		defer s.Close()
		return run(ctx, s)
	}
}

// pushCmd 入队命令
func pushCmd() *cobra.Command {
	var genID bool
	cmd := &cobra.Command{
		Use:   "push <payload>",
		Short: "Push a JSON payload (or a plain string) onto the queue",
		Example: `  queuectl push '{"id":"a","priority":3}'
  queuectl push --gen-id '{"priority":3}'`,
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVar(&genID, "gen-id", false, "fill a missing correlation field with a random UUID")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			q, err := s.queue()
			if err != nil {
				return err
			}
			payload := parsePayload(args[0])
			if genID && s.cfg.Type == config.TypeRedis {
				payload = withCorrelationID(payload, s.cfg.Redis.CorrelationKey)
			}
			if err := q.Push(ctx, payload); err != nil {
				return err
			}
			fmt.Println("✅ pushed")
			return nil
		})(cmd, args)
	}
	return cmd
}

// popCmd 出队命令；进程退出后任务不可放回
func popCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pop",
		Short: "Pop the next job and print it",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, s *session) error {
			q, err := s.queue()
			if err != nil {
				return err
			}
			data, err := q.Pop(ctx)
			if err != nil {
				return err
			}
			if data == nil {
				fmt.Println("(empty)")
				return nil
			}
			jobID, _ := q.LastJob()
			fmt.Printf("job %s\n", jobID)
			return printJSON(data)
		}),
	}
}

// peekCmd 查看队首命令
func peekCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peek",
		Short: "Show the next job without removing it",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, s *session) error {
			q, err := s.queue()
			if err != nil {
				return err
			}
			data, err := q.Peek(ctx)
			if err != nil {
				return err
			}
			if data == nil {
				fmt.Println("(empty)")
				return nil
			}
			return printJSON(data)
		}),
	}
}

// lenCmd 队列长度命令
func lenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "len",
		Short: "Print the number of queued jobs",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, s *session) error {
			l, ok := s.backend.(interface {
				Len(ctx context.Context) (int64, error)
			})
			if !ok {
				return fmt.Errorf("%s backend cannot report queue length", s.cfg.Type)
			}
			n, err := l.Len(ctx)
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		}),
	}
}

// getCmd 读取键命令
func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session) error {
				kv, err := s.store()
				if err != nil {
					return err
				}
				data, err := kv.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if data == nil {
					return fmt.Errorf("key %q not found", args[0])
				}
				return printJSON(data)
			})(cmd, args)
		},
	}
}

// setCmd 写入键命令
func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "set <key> <payload>",
		Short:   "Store a JSON payload (or a plain string) under a key",
		Example: `  queuectl set user:1 '{"name":"alice"}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session) error {
				kv, err := s.store()
				if err != nil {
					return err
				}
				if err := kv.Set(ctx, args[0], parsePayload(args[1])); err != nil {
					return err
				}
				fmt.Printf("✅ %s saved\n", args[0])
				return nil
			})(cmd, args)
		},
	}
}

// clearCmd 删除键命令
func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session) error {
				kv, err := s.store()
				if err != nil {
					return err
				}
				existed, err := kv.Clear(ctx, args[0])
				if err != nil {
					return err
				}
				if !existed {
					fmt.Printf("%s did not exist\n", args[0])
					return nil
				}
				fmt.Printf("✅ %s cleared\n", args[0])
				return nil
			})(cmd, args)
		},
	}
}

// incrCmd 计数器命令，负数表示递减
func incrCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "incr <key> [n]",
		Short: "Add n (default 1, negative to subtract) to a counter",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			by := int64(1)
			if len(args) == 2 {
				v, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid amount %q: %w", args[1], err)
				}
				by = v
			}
			return withSession(func(ctx context.Context, s *session) error {
				kv, err := s.store()
				if err != nil {
					return err
				}
				var (
					n     int64
					found bool
				)
				if by < 0 {
					n, found, err = kv.DecrementBy(ctx, args[0], -by)
				} else {
					n, found, err = kv.IncrementBy(ctx, args[0], by)
				}
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("key %q not found", args[0])
				}
				fmt.Println(n)
				return nil
			})(cmd, args)
		},
	}
}

// consumeCmd 持续消费并打印任务，直到收到退出信号
func consumeCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Run a worker that prints every job it consumes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openSession(ctx, nil)
			if err != nil {
				return err
			}
			defer s.Close()
			q, err := s.queue()
			if err != nil {
				return err
			}
			telemetry, err := s.startTelemetry(nil)
			if err != nil {
				return err
			}
			defer stopTelemetry(telemetry)

			wcfg := s.cfg.Worker
			if concurrency > 0 {
				wcfg.Concurrency = concurrency
			}
			w := worker.New(q, func(_ context.Context, jobID string, data any) error {
				fmt.Printf("job %s\n", jobID)
				return printJSON(data)
			}, wcfg, nil)
			return w.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override worker.concurrency from the configuration")
	return cmd
}

// serveCmd 启动 HTTP 服务
func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP facade and Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			s, err := openSession(ctx, reg)
			if err != nil {
				return err
			}
			defer s.Close()

			telemetry, err := s.startTelemetry(reg)
			if err != nil {
				return err
			}
			defer stopTelemetry(telemetry)

			if addr == "" {
				addr = s.cfg.HTTP.Addr
			}
			srv, err := api.New(addr, s.backend, telemetry)
			if err != nil {
				return err
			}
			if err := srv.Run(); err != nil {
				return fmt.Errorf("启动 HTTP 服务失败: %w", err)
			}

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides http.addr")
	return cmd
}
