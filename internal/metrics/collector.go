package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Collector — единая точка инструментирования для ApiClient, TransactionManager
// и CheckpointManager. Семейства метрик регистрируются лениво по имени, чтобы
// компонентам не нужно было знать формат экспорта или заранее объявлять Vec'и.
//
// Набор label-ключей фиксируется первым вызовом для данного имени: prometheus
// требует стабильную схему лейблов на семейство.
type Collector struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labelKeys  map[string][]string
}

func NewCollector(reg *prometheus.Registry) *Collector {
	// Null Object Pattern - если рег не передан, используем локальный
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Collector{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelKeys:  make(map[string][]string),
	}
}

// IncCounter инкрементирует монотонный счетчик.
func (c *Collector) IncCounter(name string, labels map[string]string) {
	c.mu.Lock()
	vec, ok := c.counters[name]
	if !ok {
		vec = promauto.With(c.reg).NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: fmt.Sprintf("Counter %s.", name),
		}, c.keysFor(name, labels))
		c.counters[name] = vec
	}
	values := c.valuesFor(name, labels)
	c.mu.Unlock()

	vec.WithLabelValues(values...).Inc()
}

// SetGauge перезаписывает point-in-time значение.
func (c *Collector) SetGauge(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	vec, ok := c.gauges[name]
	if !ok {
		vec = promauto.With(c.reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: fmt.Sprintf("Gauge %s.", name),
		}, c.keysFor(name, labels))
		c.gauges[name] = vec
	}
	values := c.valuesFor(name, labels)
	c.mu.Unlock()

	vec.WithLabelValues(values...).Set(value)
}

// ObserveHistogram добавляет наблюдение в бакеты.
func (c *Collector) ObserveHistogram(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	vec, ok := c.histograms[name]
	if !ok {
		vec = promauto.With(c.reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    fmt.Sprintf("Histogram %s.", name),
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, c.keysFor(name, labels))
		c.histograms[name] = vec
	}
	values := c.valuesFor(name, labels)
	c.mu.Unlock()

	vec.WithLabelValues(values...).Observe(value)
}

// Export отдает снапшот всех метрик в Prometheus text exposition format.
func (c *Collector) Export() (string, error) {
	families, err := c.reg.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", fmt.Errorf("encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}

// ExportToFile пишет снапшот в файл (для скрейпа через node_exporter textfile).
func (c *Collector) ExportToFile(path string) error {
	text, err := c.Export()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

// Handler — готовый HTTP-обработчик для /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// keysFor фиксирует отсортированную схему лейблов при первой регистрации имени.
// Вызывается под mu.
func (c *Collector) keysFor(name string, labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	c.labelKeys[name] = keys
	return keys
}

// valuesFor выстраивает значения по зафиксированной схеме; отсутствующие — "".
// Вызывается под mu.
func (c *Collector) valuesFor(name string, labels map[string]string) []string {
	keys := c.labelKeys[name]
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = labels[k]
	}
	return values
}
