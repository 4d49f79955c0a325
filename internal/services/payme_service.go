package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/dastarxon/internal/models"
)

// Transaction states. The sign encodes cancellation, the magnitude the
// phase the transaction reached before being cancelled.
const (
	TransactionStatePaid            = 2
	TransactionStatePending         = 1
	TransactionStatePendingCanceled = -1
	TransactionStatePaidCanceled    = -2
)

// RPC method names Payme calls on the merchant endpoint.
const (
	MethodCheckPerformTransaction = "CheckPerformTransaction"
	MethodCheckTransaction        = "CheckTransaction"
	MethodCreateTransaction       = "CreateTransaction"
	MethodPerformTransaction      = "PerformTransaction"
	MethodCancelTransaction       = "CancelTransaction"
	MethodGetStatement            = "GetStatement"
)

const (
	ProviderPayme = "payme"

	// Pending transactions expire this many minutes after create_time.
	// Expiry is detected lazily on the next Create/Perform call.
	transactionTimeoutMin = 12

	// Provider reason code for a transaction cancelled on timeout.
	reasonExpired = 4
)

// PaymeService implements the Payme merchant RPC protocol as a state
// machine over persisted transactions. It is constructed once and
// injected into the handler layer; it holds no per-request state and
// re-reads the transaction record on every call.
type PaymeService struct {
	db          *gorm.DB
	log         *zap.Logger
	notifier    *TelegramService
	merchantID  string
	checkoutURL string
}

func NewPaymeService(db *gorm.DB, log *zap.Logger, notifier *TelegramService, merchantID, checkoutURL string) *PaymeService {
	return &PaymeService{
		db:          db,
		log:         log,
		notifier:    notifier,
		merchantID:  merchantID,
		checkoutURL: checkoutURL,
	}
}

// PaymeAccount identifies who pays for what.
type PaymeAccount struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
}

type CheckPerformParams struct {
	Amount  int64        `json:"amount"`
	Account PaymeAccount `json:"account"`
}

type CheckTransactionParams struct {
	ID string `json:"id"`
}

type CreateTransactionParams struct {
	ID      string       `json:"id"`
	Account PaymeAccount `json:"account"`
	Time    int64        `json:"time"`
	Amount  int64        `json:"amount"`
}

type PerformTransactionParams struct {
	ID string `json:"id"`
}

type CancelTransactionParams struct {
	ID     string `json:"id"`
	Reason int    `json:"reason"`
}

type StatementParams struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// ReceiptItem mirrors one fiscal line in Payme's receipt detail block.
type ReceiptItem struct {
	Title       string `json:"title"`
	Price       int64  `json:"price"`
	Count       int    `json:"count"`
	Discount    int64  `json:"discount"`
	VATPercent  int    `json:"vat_percent"`
	Code        string `json:"code"`
	PackageCode string `json:"package_code"`
}

type ReceiptShipping struct {
	Title string `json:"title"`
	Price int64  `json:"price"`
}

type ReceiptDetail struct {
	ReceiptType int             `json:"receipt_type"`
	Shipping    ReceiptShipping `json:"shipping"`
	Items       []ReceiptItem   `json:"items"`
}

type CheckPerformResult struct {
	Allow  bool          `json:"allow"`
	Detail ReceiptDetail `json:"detail"`
}

type CheckTransactionResult struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
}

type CreateTransactionResult struct {
	CreateTime  int64  `json:"create_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type PerformTransactionResult struct {
	PerformTime int64  `json:"perform_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type CancelTransactionResult struct {
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type StatementTransaction struct {
	Transaction string       `json:"transaction"`
	Time        int64        `json:"time"`
	Amount      int64        `json:"amount"`
	Account     PaymeAccount `json:"account"`
	CreateTime  int64        `json:"create_time"`
	PerformTime int64        `json:"perform_time"`
	CancelTime  int64        `json:"cancel_time"`
	State       int          `json:"state"`
	Reason      *int         `json:"reason"`
}

// CheckPerformTransaction validates that the referenced user and order
// exist and that amount matches the order price exactly. The returned
// receipt detail is advisory data for Payme's confirmation UI and is
// never persisted.
func (s *PaymeService) CheckPerformTransaction(ctx context.Context, params CheckPerformParams, rpcID any) (*CheckPerformResult, error) {
	if params.Account.UserID == "" {
		return nil, newFieldError(PaymeErrorUserNotFound, rpcID, "user_id")
	}
	if params.Account.ProductID == "" {
		return nil, newFieldError(PaymeErrorProductNotFound, rpcID, "product_id")
	}

	userID, err := uuid.Parse(params.Account.UserID)
	if err != nil {
		return nil, newFieldError(PaymeErrorUserNotFound, rpcID, "user_id")
	}
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newFieldError(PaymeErrorUserNotFound, rpcID, "user_id")
		}
		return nil, err
	}

	orderID, err := uuid.Parse(params.Account.ProductID)
	if err != nil {
		return nil, newFieldError(PaymeErrorProductNotFound, rpcID, "product_id")
	}
	var order models.Order
	if err := s.db.WithContext(ctx).Preload("Items").First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newFieldError(PaymeErrorProductNotFound, rpcID, "product_id")
		}
		return nil, err
	}

	if params.Amount != order.Price {
		return nil, newTransactionError(PaymeErrorInvalidAmount, rpcID)
	}

	items := make([]ReceiptItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, ReceiptItem{
			Title:       it.Title,
			Price:       it.Price,
			Count:       it.Count,
			Discount:    it.Discount,
			VATPercent:  it.VATPercent,
			Code:        it.Code,
			PackageCode: it.PackageCode,
		})
	}

	return &CheckPerformResult{
		Allow: true,
		Detail: ReceiptDetail{
			ReceiptType: 0,
			Shipping:    ReceiptShipping{Title: "Yetkazib berish", Price: 0},
			Items:       items,
		},
	}, nil
}

// CheckTransaction is a pure read of one transaction's current state.
func (s *PaymeService) CheckTransaction(ctx context.Context, params CheckTransactionParams, rpcID any) (*CheckTransactionResult, error) {
	txn, err := s.loadTransaction(ctx, params.ID, rpcID)
	if err != nil {
		return nil, err
	}

	return &CheckTransactionResult{
		CreateTime:  txn.CreateTime,
		PerformTime: txn.PerformTime,
		CancelTime:  txn.CancelTime,
		Transaction: txn.ID,
		State:       txn.State,
		Reason:      txn.Reason,
	}, nil
}

// CreateTransaction registers a new pending transaction. Payme sends
// the amount multiplied by 100 relative to the stored order price, so
// it is divided back before validation. Retransmission of the same
// create call within the expiry window is idempotent.
func (s *PaymeService) CreateTransaction(ctx context.Context, params CreateTransactionParams, rpcID any) (*CreateTransactionResult, error) {
	amount := params.Amount / 100

	if _, err := s.CheckPerformTransaction(ctx, CheckPerformParams{
		Amount:  amount,
		Account: params.Account,
	}, rpcID); err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()

	var existing models.PaymeTransaction
	err := s.db.WithContext(ctx).First(&existing, "id = ?", params.ID).Error
	if err == nil {
		if existing.State != TransactionStatePending {
			return nil, newTransactionError(PaymeErrorCantDoOperation, rpcID)
		}
		if s.expired(existing.CreateTime, now) {
			if err := s.cancelExpired(ctx, existing.ID, now); err != nil {
				return nil, err
			}
			return nil, newTransactionError(PaymeErrorCantDoOperation, rpcID)
		}
		return &CreateTransactionResult{
			CreateTime:  existing.CreateTime,
			Transaction: existing.ID,
			State:       TransactionStatePending,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// Another transaction already paying for the same order blocks this
	// one: Paid means the order is settled, Pending means a concurrent
	// attempt is in flight.
	var conflict models.PaymeTransaction
	err = s.db.WithContext(ctx).
		Where("provider = ? AND user_id = ? AND product_id = ? AND id <> ? AND state IN ?",
			ProviderPayme, params.Account.UserID, params.Account.ProductID, params.ID,
			[]int{TransactionStatePending, TransactionStatePaid}).
		First(&conflict).Error
	if err == nil {
		if conflict.State == TransactionStatePaid {
			return nil, newTransactionError(PaymeErrorAlreadyDone, rpcID)
		}
		return nil, newTransactionError(PaymeErrorPending, rpcID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	txn := models.PaymeTransaction{
		ID:          params.ID,
		State:       TransactionStatePending,
		Amount:      amount,
		UserID:      params.Account.UserID,
		ProductID:   params.Account.ProductID,
		Provider:    ProviderPayme,
		CreateTime:  params.Time,
		PerformTime: 0,
		CancelTime:  0,
		Reason:      nil,
	}
	if err := s.db.WithContext(ctx).Create(&txn).Error; err != nil {
		return nil, err
	}

	s.log.Info("payme transaction created",
		zap.String("transaction", txn.ID),
		zap.String("user", txn.UserID),
		zap.String("product", txn.ProductID),
		zap.Int64("amount", txn.Amount))

	return &CreateTransactionResult{
		CreateTime:  params.Time,
		Transaction: params.ID,
		State:       TransactionStatePending,
	}, nil
}

// PerformTransaction marks a pending transaction as paid. Replaying a
// perform call on an already-paid transaction returns the original
// perform_time unchanged.
func (s *PaymeService) PerformTransaction(ctx context.Context, params PerformTransactionParams, rpcID any) (*PerformTransactionResult, error) {
	txn, err := s.loadTransaction(ctx, params.ID, rpcID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()

	if txn.State != TransactionStatePending {
		if txn.State != TransactionStatePaid {
			return nil, newTransactionError(PaymeErrorCantDoOperation, rpcID)
		}
		return &PerformTransactionResult{
			PerformTime: txn.PerformTime,
			Transaction: txn.ID,
			State:       TransactionStatePaid,
		}, nil
	}

	if s.expired(txn.CreateTime, now) {
		if err := s.cancelExpired(ctx, txn.ID, now); err != nil {
			return nil, err
		}
		return nil, newTransactionError(PaymeErrorCantDoOperation, rpcID)
	}

	// Conditional on the state read above so two racing perform calls
	// cannot both record a payment.
	res := s.db.WithContext(ctx).
		Model(&models.PaymeTransaction{}).
		Where("id = ? AND state = ?", txn.ID, TransactionStatePending).
		Updates(map[string]any{
			"state":        TransactionStatePaid,
			"perform_time": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		reread, err := s.loadTransaction(ctx, params.ID, rpcID)
		if err != nil {
			return nil, err
		}
		if reread.State == TransactionStatePaid {
			return &PerformTransactionResult{
				PerformTime: reread.PerformTime,
				Transaction: reread.ID,
				State:       TransactionStatePaid,
			}, nil
		}
		return nil, newTransactionError(PaymeErrorCantDoOperation, rpcID)
	}

	s.log.Info("payme transaction performed",
		zap.String("transaction", txn.ID),
		zap.Int64("amount", txn.Amount))

	if s.notifier != nil {
		go func(t models.PaymeTransaction) {
			if err := s.notifier.NotifyPaymentSuccess(PaymentSuccessNotification{
				TransactionID: t.ID,
				OrderID:       t.ProductID,
				Amount:        t.Amount,
				Currency:      "UZS",
			}); err != nil {
				s.log.Warn("payment success notification failed",
					zap.String("transaction", t.ID), zap.Error(err))
			}
		}(*txn)
	}

	return &PerformTransactionResult{
		PerformTime: now,
		Transaction: txn.ID,
		State:       TransactionStatePaid,
	}, nil
}

// CancelTransaction flips a positive state to its negative counterpart
// and records the provider's reason. Cancelled states are absorbing:
// re-cancelling reports the stored state without touching reason or
// cancel_time.
func (s *PaymeService) CancelTransaction(ctx context.Context, params CancelTransactionParams, rpcID any) (*CancelTransactionResult, error) {
	txn, err := s.loadTransaction(ctx, params.ID, rpcID)
	if err != nil {
		return nil, err
	}

	if txn.State > 0 {
		now := time.Now().UnixMilli()
		newState := -txn.State
		res := s.db.WithContext(ctx).
			Model(&models.PaymeTransaction{}).
			Where("id = ? AND state = ?", txn.ID, txn.State).
			Updates(map[string]any{
				"state":       newState,
				"reason":      params.Reason,
				"cancel_time": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost a race with a concurrent perform or cancel; report
			// whatever the record says now.
			txn, err = s.loadTransaction(ctx, params.ID, rpcID)
			if err != nil {
				return nil, err
			}
			if txn.State > 0 {
				return nil, newTransactionError(PaymeErrorCantDoOperation, rpcID)
			}
		} else {
			reason := params.Reason
			txn.State = newState
			txn.CancelTime = now
			txn.Reason = &reason

			s.log.Info("payme transaction cancelled",
				zap.String("transaction", txn.ID),
				zap.Int("state", txn.State),
				zap.Int("reason", params.Reason))
		}
	}

	return &CancelTransactionResult{
		CancelTime:  txn.CancelTime,
		Transaction: txn.ID,
		State:       txn.State,
	}, nil
}

// GetStatement returns every payme transaction created inside the
// inclusive [from, to] range, for provider-side reconciliation. No
// pagination: the provider expects the full range.
func (s *PaymeService) GetStatement(ctx context.Context, params StatementParams, rpcID any) ([]StatementTransaction, error) {
	var txns []models.PaymeTransaction
	if err := s.db.WithContext(ctx).
		Where("provider = ? AND create_time >= ? AND create_time <= ?",
			ProviderPayme, params.From, params.To).
		Order("create_time").
		Find(&txns).Error; err != nil {
		return nil, err
	}

	result := make([]StatementTransaction, 0, len(txns))
	for _, t := range txns {
		result = append(result, StatementTransaction{
			Transaction: t.ID,
			Time:        t.CreateTime,
			Amount:      t.Amount,
			Account:     PaymeAccount{UserID: t.UserID, ProductID: t.ProductID},
			CreateTime:  t.CreateTime,
			PerformTime: t.PerformTime,
			CancelTime:  t.CancelTime,
			State:       t.State,
			Reason:      t.Reason,
		})
	}

	return result, nil
}

// CheckoutURL builds the hosted payment page redirect for an order.
// Payme expects the amount in its own x100 convention, the parameters
// semicolon-delimited and base64-encoded into the path.
func (s *PaymeService) CheckoutURL(userID, productID string, amount int64) string {
	payload := fmt.Sprintf("m=%s;ac.user_id=%s;ac.product_id=%s;a=%d",
		s.merchantID, userID, productID, amount*100)
	return s.checkoutURL + "/" + base64.StdEncoding.EncodeToString([]byte(payload))
}

func (s *PaymeService) loadTransaction(ctx context.Context, id string, rpcID any) (*models.PaymeTransaction, error) {
	var txn models.PaymeTransaction
	if err := s.db.WithContext(ctx).First(&txn, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newTransactionError(PaymeErrorTransactionNotFound, rpcID)
		}
		return nil, err
	}
	return &txn, nil
}

func (s *PaymeService) expired(createTime, now int64) bool {
	return (now-createTime)/60000 >= transactionTimeoutMin
}

// cancelExpired moves a timed-out pending transaction to
// PendingCanceled with the provider's expiry reason code. Conditional
// on the pending state so it cannot clobber a concurrent perform.
func (s *PaymeService) cancelExpired(ctx context.Context, id string, now int64) error {
	res := s.db.WithContext(ctx).
		Model(&models.PaymeTransaction{}).
		Where("id = ? AND state = ?", id, TransactionStatePending).
		Updates(map[string]any{
			"state":       TransactionStatePendingCanceled,
			"reason":      reasonExpired,
			"cancel_time": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Info("payme transaction expired", zap.String("transaction", id))
	}
	return nil
}
