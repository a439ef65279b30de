package neo4j

import (
	"context"
	"errors"
	"testing"
)

func TestClassifyNeo4jError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		recorded  bool
	}{
		{"nil", nil, false, false},
		{"context canceled", context.Canceled, false, false},
		{"deadline exceeded", context.DeadlineExceeded, false, false},
		{"plain failure", errors.New("syntax error"), false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			class := classifyNeo4jError(tc.err)
			if class.Retryable != tc.retryable || class.RecordFailure != tc.recorded {
				t.Errorf("classify(%v) = %+v, want retryable=%v recorded=%v",
					tc.err, class, tc.retryable, tc.recorded)
			}
		})
	}
}
