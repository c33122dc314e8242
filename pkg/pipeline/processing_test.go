package pipeline_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	promdto "github.com/prometheus/client_model/go"

	"github.com/pyth-watch/publisher-monitor/pkg/pipeline"
)

// Helper

type Data struct{}

var (
	data = Data{}

	errOneError = errors.New("error for testing purpose")
	oneCategory = "category1"

	errRetryableErrProcessingError = pipeline.NewRetryableErrProcessingError(errOneError, oneCategory)
)

type countingProcessing struct {
	calls   int
	results []error
}

func (p *countingProcessing) Process(ctx context.Context, d Data) error {
	call := p.calls
	p.calls++

	if call >= len(p.results) {
		return nil
	}

	return p.results[call]
}

type panicProcessing struct{}

func (p panicProcessing) Process(ctx context.Context, d Data) error {
	panic("my specific reason")
}

func filterMetricByLabel(metrics []*promdto.Metric, labelName, labelValue string) *promdto.Metric {
	for _, metric := range metrics {
		for _, label := range metric.GetLabel() {
			if label.GetName() == labelName && label.GetValue() == labelValue {
				return metric
			}
		}
	}

	return nil
}

// Test Panic Processing

var _ = Describe("Testing panic handler processing", func() {
	When("the inner processing panics", func() {
		It("should return an error and not panic", func(ctx SpecContext) {
			panicHandler := pipeline.NewPanicHandlerProcessing[Data](panicProcessing{})

			err := panicHandler.Process(ctx, data)
			Expect(err).To(HaveOccurred(), "non nil err")
			Expect(err.Error()).To(ContainSubstring("my specific reason"), "contain the panic reason")
		})
	})

	When("the inner processing returns an error", func() {
		It("should return the error", func(ctx SpecContext) {
			proc := &countingProcessing{results: []error{errOneError}}
			panicHandler := pipeline.NewPanicHandlerProcessing[Data](proc)

			err := panicHandler.Process(ctx, data)
			Expect(err).Should(MatchError(errOneError))
		})
	})
})

// Test Retry

var _ = Describe("Testing RetryProcessing", func() {
	var proc *countingProcessing
	var retry pipeline.Processing[Data]

	newRetry := func(p pipeline.Processing[Data]) pipeline.Processing[Data] {
		return pipeline.NewRetryProcessing(p, pipeline.RetryConfig{MaxAttempt: 3, Delay: time.Millisecond})
	}

	When("the inner processing fails twice with a retryable error then succeeds", func() {
		BeforeEach(func() {
			proc = &countingProcessing{results: []error{errRetryableErrProcessingError, errRetryableErrProcessingError}}
			retry = newRetry(proc)
		})

		It("should succeed on the third attempt", func(ctx SpecContext) {
			err := retry.Process(ctx, data)
			Expect(err).NotTo(HaveOccurred())
			Expect(proc.calls).To(Equal(3))
		})
	})

	When("the inner processing keeps failing with a retryable error", func() {
		BeforeEach(func() {
			proc = &countingProcessing{results: []error{
				errRetryableErrProcessingError, errRetryableErrProcessingError,
				errRetryableErrProcessingError, errRetryableErrProcessingError,
			}}
			retry = newRetry(proc)
		})

		It("should stop after the maximum attempt count and propagate the error", func(ctx SpecContext) {
			err := retry.Process(ctx, data)

			Expect(err).To(HaveOccurred(), "non nil error")
			Expect(err).Should(MatchError(pipeline.ErrRetryableError), "error is retryable")
			Expect(proc.calls).To(Equal(3), "exactly 3 attempts")

			processingError := pipeline.ErrProcessingError{}
			Expect(errors.As(err, &processingError)).To(BeTrue(), "error is a ErrProcessingError")
			Expect(processingError.Category).To(Equal(oneCategory), "category is preserved")
		})
	})

	When("the inner processing fails with a generic error", func() {
		BeforeEach(func() {
			proc = &countingProcessing{results: []error{errOneError, errOneError}}
			retry = newRetry(proc)
		})

		It("should fail immediately without retrying", func(ctx SpecContext) {
			err := retry.Process(ctx, data)
			Expect(err).Should(MatchError(errOneError))
			Expect(proc.calls).To(Equal(1))
		})
	})
})

// Test Error Count

var _ = Describe("Testing error metrics processing", func() {
	var registry *prometheus.Registry
	var metrics pipeline.Processing[pipeline.ErrProcessingError]
	var err error

	BeforeEach(func() {
		registry = prometheus.NewPedanticRegistry()

		metrics, err = pipeline.NewErrorCountProcessing(registry, pipeline.MetricsConfig{Namespace: "test"})
		Expect(err).NotTo(HaveOccurred())
	})

	When("processing errors with different categories", func() {
		BeforeEach(func() {
			for i := 0; i < 2; i++ {
				err = metrics.Process(context.TODO(), pipeline.NewErrProcessingError(errOneError, "decode"))
				Expect(err).NotTo(HaveOccurred())
			}

			err = metrics.Process(context.TODO(), pipeline.NewErrProcessingError(errOneError, "transport"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should count per category", func() {
			gathered, err := registry.Gather()
			Expect(err).NotTo(HaveOccurred())
			Expect(gathered).To(HaveLen(1))

			decode := filterMetricByLabel(gathered[0].Metric, "category", "decode")
			Expect(decode).NotTo(BeNil())
			Expect(decode.Counter.GetValue()).To(BeEquivalentTo(2))

			transport := filterMetricByLabel(gathered[0].Metric, "category", "transport")
			Expect(transport).NotTo(BeNil())
			Expect(transport.Counter.GetValue()).To(BeEquivalentTo(1))
		})
	})
})
