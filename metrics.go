package pickle

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// metricEncoded counts pickles written, by protocol.
	metricEncoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pickle",
			Name:      "encoded_total",
			Help:      "Total number of encoded pickles by protocol",
		},
		[]string{"protocol"},
	)

	// metricDecoded counts pickles read, by protocol seen in PROTO opcode.
	metricDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pickle",
			Name:      "decoded_total",
			Help:      "Total number of decoded pickles by protocol",
		},
		[]string{"protocol"},
	)

	metricEncodedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pickle",
		Name:      "encoded_bytes_total",
		Help:      "Total number of bytes written by encoders",
	})

	metricOutOfBand = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pickle",
			Name:      "out_of_band_buffers_total",
			Help:      "Total number of out-of-band buffers by direction",
		},
		[]string{"direction"}, // encode, decode
	)

	metricErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pickle",
			Name:      "errors_total",
			Help:      "Total number of encoding and decoding errors by kind",
		},
		[]string{"kind"},
	)
)

// Collectors returns the package's metrics for registration with a
// prometheus.Registerer. The package does not register them itself.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		metricEncoded,
		metricDecoded,
		metricEncodedBytes,
		metricOutOfBand,
		metricErrors,
	}
}

func protoLabel(protocol int) string {
	return strconv.Itoa(protocol)
}

// countError accounts err by its kind.
func countError(err error) {
	kind := "io"
	if e, ok := err.(*Error); ok {
		kind = string(e.Kind)
	}
	metricErrors.WithLabelValues(kind).Inc()
}
