package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/dastarxon/internal/models"
)

// Card/receipt methods the proxy is willing to forward.
var cardMethods = map[string]bool{
	"cards.create":          true,
	"cards.get_verify_code": true,
	"cards.verify":          true,
	"receipts.create":       true,
	"receipts.pay":          true,
}

// CardAPIError is a provider-side error returned by the card REST API.
type CardAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *CardAPIError) Error() string {
	return fmt.Sprintf("payme card api error %d: %s", e.Code, e.Message)
}

// CardService proxies to Payme's card tokenization and receipts REST
// API, which is separate from the merchant RPC protocol. Successful
// receipt payments are persisted per user.
type CardService struct {
	client      *resty.Client
	db          *gorm.DB
	log         *zap.Logger
	merchantID  string
	merchantKey string
}

func NewCardService(db *gorm.DB, log *zap.Logger, apiURL, merchantID, merchantKey string) *CardService {
	return &CardService{
		client: resty.New().
			SetBaseURL(apiURL).
			SetTimeout(15 * time.Second),
		db:          db,
		log:         log,
		merchantID:  merchantID,
		merchantKey: merchantKey,
	}
}

type cardAPIResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *CardAPIError   `json:"error"`
}

type receiptPayResult struct {
	Receipt struct {
		ID      string `json:"_id"`
		Amount  int64  `json:"amount"`
		State   int    `json:"state"`
		PayTime int64  `json:"pay_time"`
	} `json:"receipt"`
}

// Call forwards one whitelisted method to the card API. Card methods
// authenticate with the merchant id alone, receipt methods with
// id:key.
func (s *CardService) Call(ctx context.Context, userID uuid.UUID, method string, params json.RawMessage) (json.RawMessage, error) {
	if !cardMethods[method] {
		return nil, fmt.Errorf("unsupported card api method %q", method)
	}

	auth := s.merchantID
	if strings.HasPrefix(method, "receipts.") {
		auth = s.merchantID + ":" + s.merchantKey
	}

	var body cardAPIResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("X-Auth", auth).
		SetBody(map[string]any{
			"id":     time.Now().UnixMilli(),
			"method": method,
			"params": params,
		}).
		SetResult(&body).
		Post("")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("payme card api returned status %d", resp.StatusCode())
	}
	if body.Error != nil {
		return nil, body.Error
	}

	if method == "receipts.pay" {
		s.saveReceipt(ctx, userID, body.Result)
	}

	return body.Result, nil
}

// saveReceipt records a paid receipt for the user. Failures are logged
// and swallowed: the provider already accepted the payment and the
// caller must see the result either way.
func (s *CardService) saveReceipt(ctx context.Context, userID uuid.UUID, result json.RawMessage) {
	var parsed receiptPayResult
	if err := json.Unmarshal(result, &parsed); err != nil || parsed.Receipt.ID == "" {
		s.log.Warn("unparseable receipts.pay result", zap.Error(err))
		return
	}

	receipt := models.CardReceipt{
		UserID:    userID,
		ReceiptID: parsed.Receipt.ID,
		Amount:    parsed.Receipt.Amount,
		State:     parsed.Receipt.State,
		PayTime:   parsed.Receipt.PayTime,
		Raw:       result,
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&receipt).Error; err != nil {
		s.log.Warn("failed to persist card receipt",
			zap.String("receipt", parsed.Receipt.ID), zap.Error(err))
		return
	}

	s.log.Info("card receipt persisted",
		zap.String("receipt", parsed.Receipt.ID),
		zap.String("user", userID.String()),
		zap.Int64("amount", parsed.Receipt.Amount))
}
