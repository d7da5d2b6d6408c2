package notification

import (
	"context"
	"errors"
	"net/http"
	"time"

	"transflow/internal/ride-service/ledger"
	"transflow/internal/ride-service/service"
	"transflow/pkg/logger"
	"transflow/pkg/websocket"

	"github.com/shopspring/decimal"
)

const balanceCreditedType = "balance_credited"

// BalanceCreditedMessage is what a driver's socket receives after a credit.
type BalanceCreditedMessage struct {
	Type      string          `json:"type"`
	Motorista string          `json:"motorista"`
	RideID    string          `json:"id_corrida"`
	Valor     decimal.Decimal `json:"valor_corrida"`
	Saldo     decimal.Decimal `json:"saldo"`
	Moeda     string          `json:"moeda"`
	Timestamp time.Time       `json:"timestamp"`
}

// BalanceNotifier pushes balance changes to drivers subscribed over
// websocket. Drivers are matched case-insensitively, like ledger accounts.
type BalanceNotifier struct {
	manager *websocket.Manager
	log     logger.Logger
	now     func() time.Time
}

func NewBalanceNotifier(manager *websocket.Manager, log logger.Logger) *BalanceNotifier {
	return &BalanceNotifier{manager: manager, log: log, now: time.Now}
}

// subscriberKey matches the ledger's account identity, so a feed follows
// exactly one balance.
func subscriberKey(driver string) string {
	return ledger.Account(driver)
}

func (n *BalanceNotifier) NotifyBalanceCredited(_ context.Context, notice service.BalanceCredited) error {
	return n.manager.Send(subscriberKey(notice.Driver), BalanceCreditedMessage{
		Type:      balanceCreditedType,
		Motorista: notice.Driver,
		RideID:    notice.RideID,
		Valor:     notice.Amount,
		Saldo:     notice.Balance,
		Moeda:     "BRL",
		Timestamp: n.now().UTC(),
	})
}

// Handler serves GET /ws/drivers/{driver}.
func (n *BalanceNotifier) Handler() http.Handler {
	return websocket.NewHandler(n.log, driverFromPath, func(conn *websocket.Connection) {
		n.manager.AddConnection(conn)
		go conn.ReadPump(nil, func() { n.manager.RemoveConnection(conn) })
	})
}

func driverFromPath(r *http.Request) (string, error) {
	key := subscriberKey(r.PathValue("driver"))
	if key == "" {
		return "", errors.New("driver is required")
	}
	return key, nil
}
