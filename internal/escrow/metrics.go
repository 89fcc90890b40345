package escrow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	releasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_transactions_released_total",
		Help: "Transactions released to the seller",
	})

	disputedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_transactions_disputed_total",
		Help: "Transactions frozen by a dispute",
	})

	creditedAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_credited_amount_total",
		Help: "Total amount credited to seller wallets, by currency",
	}, []string{"currency"})
)
