package monitor

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// OpenMetrics scrapes an exporter endpoint, such as NVIDIA's DCGM
// exporter, and reports matching metrics.
type OpenMetrics struct {
	name    string
	url     string
	client  *http.Client
	filters []*regexp.Regexp
}

// NewOpenMetrics creates a resource scraping the given endpoint.
//
// Only metrics whose name matches one of the filter patterns are
// reported; with no filters, everything is.
func NewOpenMetrics(
	name string,
	url string,
	filters []*regexp.Regexp,
) *OpenMetrics {
	return &OpenMetrics{
		name:    name,
		url:     url,
		client:  &http.Client{Timeout: 5 * time.Second},
		filters: filters,
	}
}

func (o *OpenMetrics) Name() string { return "openmetrics." + o.name }

func (o *OpenMetrics) Sample() (map[string]float64, error) {
	resp, err := o.client.Get(o.url)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"monitor: exporter returned %d", resp.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("monitor: failed to parse exposition: %v", err)
	}

	metrics := map[string]float64{}
	for name, family := range families {
		if !o.matches(name) {
			continue
		}

		for _, m := range family.GetMetric() {
			value, ok := metricValue(family.GetType(), m)
			if !ok {
				continue
			}
			metrics[o.name+"."+name+labelSuffix(m)] = value
		}
	}

	return metrics, nil
}

func (o *OpenMetrics) matches(name string) bool {
	if len(o.filters) == 0 {
		return true
	}
	for _, filter := range o.filters {
		if filter.MatchString(name) {
			return true
		}
	}
	return false
}

func metricValue(typ dto.MetricType, m *dto.Metric) (float64, bool) {
	switch typ {
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue(), true
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue(), true
	case dto.MetricType_UNTYPED:
		return m.GetUntyped().GetValue(), true
	default:
		return 0, false
	}
}

// labelSuffix distinguishes series of the same metric, for example
// per-GPU series labeled by device index.
func labelSuffix(m *dto.Metric) string {
	labels := m.GetLabel()
	if len(labels) == 0 {
		return ""
	}

	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		parts = append(parts, label.GetValue())
	}
	sort.Strings(parts)

	return "." + strings.Join(parts, ".")
}
