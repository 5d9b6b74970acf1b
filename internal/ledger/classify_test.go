package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		detail string
		want   ErrorClass
	}{
		{DetailSelfPayment, Permanent},
		{DetailNoCredential, Permanent},
		{"Failed after 5 attempts: No secret key found for this account", Permanent},
		{DetailBadSequence, Transient},
		{DetailBadAuth, Transient},
		{"Transaction failed: op_underfunded", Transient},
		{"dial tcp: i/o timeout", Transient},
		{"failed to build transaction: invalid amount format: 1.000000000000000000000", Permanent},
		{"failed to sign transaction: bad key", Transient},
		{"", Transient},
	}

	for _, tt := range tests {
		t.Run(tt.detail, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.detail))
		})
	}
}
