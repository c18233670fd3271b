// Package metrics собирает Prometheus-метрики GraphQL-операций.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blog"

// Metrics - расширение gqlgen. Подключается через handler.Server.Use.
type Metrics struct {
	registry   *prometheus.Registry
	operations map[string]struct{}

	operationsTotal   *prometheus.CounterVec   // By operation and status (ok/error)
	operationDuration *prometheus.HistogramVec // By operation
	resolverErrors    *prometheus.CounterVec   // By field (Object.field)
}

var (
	_ graphql.HandlerExtension    = (*Metrics)(nil)
	_ graphql.ResponseInterceptor = (*Metrics)(nil)
	_ graphql.FieldInterceptor    = (*Metrics)(nil)
)

// New регистрирует метрики в собственном реестре, чтобы тесты и несколько
// серверов в одном процессе не конфликтовали в prometheus.DefaultRegisterer.
// operations - имена операций, которые попадут в метку operation как есть.
func New(operations ...string) *Metrics {
	m := &Metrics{
		registry:   prometheus.NewRegistry(),
		operations: make(map[string]struct{}, len(operations)),

		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graphql",
			Name:      "operations_total",
			Help:      "Total number of GraphQL responses",
		}, []string{"operation", "status"}),

		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "graphql",
			Name:      "operation_duration_seconds",
			Help:      "GraphQL operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		resolverErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graphql",
			Name:      "resolver_errors_total",
			Help:      "Total number of errors returned by field resolvers",
		}, []string{"field"}),
	}

	m.registry.MustRegister(
		m.operationsTotal,
		m.operationDuration,
		m.resolverErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, op := range operations {
		m.operations[op] = struct{}{}
	}
	return m
}

// Register добавляет сторонний коллектор в реестр сервиса.
func (m *Metrics) Register(c prometheus.Collector) error {
	return m.registry.Register(c)
}

// Handler отдает метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ExtensionName() string { return "PrometheusMetrics" }

func (m *Metrics) Validate(graphql.ExecutableSchema) error { return nil }

func (m *Metrics) InterceptResponse(ctx context.Context, next graphql.ResponseHandler) *graphql.Response {
	if !graphql.HasOperationContext(ctx) {
		return next(ctx)
	}
	oc := graphql.GetOperationContext(ctx)
	start := time.Now()
	if !oc.Stats.OperationStart.IsZero() {
		start = oc.Stats.OperationStart
	}

	resp := next(ctx)

	op := m.OperationLabel(oc)
	status := "ok"
	if resp != nil && len(resp.Errors) > 0 {
		status = "error"
	}
	m.operationsTotal.WithLabelValues(op, status).Inc()
	m.operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return resp
}

func (m *Metrics) InterceptField(ctx context.Context, next graphql.Resolver) (interface{}, error) {
	res, err := next(ctx)
	if err != nil {
		if fc := graphql.GetFieldContext(ctx); fc != nil && fc.Field.Field != nil {
			m.resolverErrors.WithLabelValues(fc.Object + "." + fc.Field.Name).Inc()
		}
	}
	return res, err
}

// OperationLabel возвращает значение метки operation. Имя приходит от клиента,
// поэтому как есть пишутся только имена из списка operations: остальные
// сводятся к типу операции, и кардинальность метки ограничена.
func (m *Metrics) OperationLabel(oc *graphql.OperationContext) string {
	name := oc.OperationName
	if name == "" && oc.Operation != nil {
		name = oc.Operation.Name
	}
	if _, ok := m.operations[name]; ok && name != "" {
		return name
	}
	if oc.Operation == nil {
		return "unknown"
	}
	if name == "" {
		return "anonymous_" + string(oc.Operation.Operation)
	}
	return "other_" + string(oc.Operation.Operation)
}
