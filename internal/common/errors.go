package common

import (
	"fmt"

	"github.com/pyth-watch/publisher-monitor/pkg/pipeline"
)

func NewErrProcessingError(err error, category string, reason string, args ...interface{}) pipeline.ErrProcessingError {
	cause := fmt.Sprintf(reason, args...)
	dErr := fmt.Errorf("%s: %w", cause, err)

	return pipeline.NewErrProcessingError(dErr, category)
}
