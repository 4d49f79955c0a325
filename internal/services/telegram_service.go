package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// TelegramService pushes payment notifications to the admin chat.
type TelegramService struct {
	client      *resty.Client
	log         *zap.Logger
	botToken    string
	adminChatID string
}

func NewTelegramService(log *zap.Logger, botToken, adminChatID string) *TelegramService {
	return &TelegramService{
		client: resty.New().
			SetBaseURL("https://api.telegram.org").
			SetTimeout(10 * time.Second),
		log:         log,
		botToken:    botToken,
		adminChatID: adminChatID,
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to the specified chat.
func (s *TelegramService) SendMessage(chatID, text string) error {
	if s.botToken == "" {
		s.log.Debug("telegram bot token not configured, skipping message")
		return nil
	}

	resp, err := s.client.R().
		SetBody(telegramMessage{ChatID: chatID, Text: text, ParseMode: "HTML"}).
		Post(fmt.Sprintf("/bot%s/sendMessage", s.botToken))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode())
	}
	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(text string) error {
	if s.adminChatID == "" {
		s.log.Debug("telegram admin chat not configured, skipping message")
		return nil
	}
	return s.SendMessage(s.adminChatID, text)
}

// PaymentSuccessNotification contains data for a payment success message.
type PaymentSuccessNotification struct {
	TransactionID string
	OrderID       string
	Amount        int64
	Currency      string
}

// NotifyPaymentSuccess tells the admin chat a Payme payment went through.
func (s *TelegramService) NotifyPaymentSuccess(n PaymentSuccessNotification) error {
	text := fmt.Sprintf(
		"✅ <b>To'lov muvaffaqiyatli</b>\n\nTranzaktsiya: <code>%s</code>\nBuyurtma: <code>%s</code>\nSumma: %s",
		n.TransactionID, n.OrderID, FormatPrice(n.Amount, n.Currency),
	)
	return s.SendToAdmin(text)
}

// FormatPrice formats a minor-unit amount with thousand separators.
func FormatPrice(amount int64, currency string) string {
	if currency == "" {
		currency = "UZS"
	}

	str := fmt.Sprintf("%d", amount)
	var result strings.Builder
	length := len(str)
	for i, digit := range str {
		if i > 0 && (length-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	return result.String() + " " + currency
}
