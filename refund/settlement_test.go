package refund

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/metrics"
)

func TestTracker_Applies(t *testing.T) {
	tr := NewTracker(nil, nil)
	assert.True(t, tr.Applies(ledger.KindPlatformTipDebt))
	assert.True(t, tr.Applies(ledger.KindHostFeeShareDebt))
	assert.False(t, tr.Applies(ledger.KindHostFeeShare))
	assert.False(t, tr.Applies(ledger.KindContribution))
}

func TestTracker_BeforeDebtRefund(t *testing.T) {
	tests := []struct {
		name  string
		start ledger.SettlementStatus
		want  ledger.SettlementStatus
		moves float64
	}{
		{"owed stays owed", ledger.SettlementOwed, ledger.SettlementOwed, 0},
		{"invoiced is settled", ledger.SettlementInvoiced, ledger.SettlementSettled, 1},
		{"settled stays settled", ledger.SettlementSettled, ledger.SettlementSettled, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seedContribution(t, withTipDebtStatus(tt.start))
			m := metrics.New(prometheus.NewRegistry())
			tr := NewTracker(nil, m)
			debt := s.pairs[ledger.KindPlatformTipDebt]

			require.NoError(t, tr.BeforeDebtRefund(context.Background(), s.st, *debt.Credit))

			got, err := s.st.FindSettlement(context.Background(), s.group, ledger.KindPlatformTipDebt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.moves, testutil.ToFloat64(m.SettlementTransitions.WithLabelValues(
				string(ledger.KindPlatformTipDebt), string(ledger.SettlementInvoiced), string(ledger.SettlementSettled))))
		})
	}
}

func TestTracker_IgnoresNonDebtKinds(t *testing.T) {
	s := seedContribution(t)
	tr := NewTracker(nil, nil)

	require.NoError(t, tr.BeforeDebtRefund(context.Background(), s.st, *s.main().Credit))
	require.NoError(t, tr.Open(context.Background(), s.st, s.main()))

	got, err := s.st.FindSettlement(context.Background(), s.group, ledger.KindContribution)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTracker_OpenTwiceIsADuplicate(t *testing.T) {
	s := seedContribution(t)
	tr := NewTracker(nil, nil)

	err := tr.Open(context.Background(), s.st, s.pairs[ledger.KindHostFeeShareDebt])

	assert.ErrorIs(t, err, ledger.ErrDuplicateSettlement)
}
