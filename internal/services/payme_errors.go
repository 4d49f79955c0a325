package services

// PaymeErrorInfo describes one provider-defined error: the numeric code
// Payme mandates for the condition plus the multilingual message the
// cashier UI displays.
type PaymeErrorInfo struct {
	Name    string
	Code    int
	Message map[string]string
}

var (
	PaymeErrorUserNotFound = PaymeErrorInfo{
		Name: "UserNotFound",
		Code: -31050,
		Message: map[string]string{
			"uz": "Foydalanuvchi topilmadi",
			"ru": "Пользователь не найден",
			"en": "User not found",
		},
	}
	PaymeErrorProductNotFound = PaymeErrorInfo{
		Name: "ProductNotFound",
		Code: -31050,
		Message: map[string]string{
			"uz": "Buyurtma topilmadi",
			"ru": "Заказ не найден",
			"en": "Order not found",
		},
	}
	PaymeErrorInvalidAmount = PaymeErrorInfo{
		Name: "InvalidAmount",
		Code: -31001,
		Message: map[string]string{
			"uz": "Noto'g'ri summa",
			"ru": "Недопустимая сумма",
			"en": "Invalid amount",
		},
	}
	PaymeErrorTransactionNotFound = PaymeErrorInfo{
		Name: "TransactionNotFound",
		Code: -31003,
		Message: map[string]string{
			"uz": "Tranzaktsiya topilmadi",
			"ru": "Транзакция не найдена",
			"en": "Transaction not found",
		},
	}
	PaymeErrorCantDoOperation = PaymeErrorInfo{
		Name: "CantDoOperation",
		Code: -31008,
		Message: map[string]string{
			"uz": "Biz operatsiyani bajara olmaymiz",
			"ru": "Мы не можем сделать операцию",
			"en": "We can't do operation",
		},
	}
	PaymeErrorAlreadyDone = PaymeErrorInfo{
		Name: "AlreadyDone",
		Code: -31060,
		Message: map[string]string{
			"uz": "Mahsulot uchun to'lov qilingan",
			"ru": "Оплачено за товар",
			"en": "Paid for the product",
		},
	}
	PaymeErrorPending = PaymeErrorInfo{
		Name: "Pending",
		Code: -31050,
		Message: map[string]string{
			"uz": "Mahsulot uchun to'lov kutilayapti",
			"ru": "Ожидается оплата товар",
			"en": "Payment for the product is pending",
		},
	}
	PaymeErrorInvalidAuthorization = PaymeErrorInfo{
		Name: "InvalidAuthorization",
		Code: -32504,
		Message: map[string]string{
			"uz": "Avtorizatsiya yaroqsiz",
			"ru": "Авторизация недействительна",
			"en": "Authorization invalid",
		},
	}
	PaymeErrorMethodNotFound = PaymeErrorInfo{
		Name: "MethodNotFound",
		Code: -32601,
		Message: map[string]string{
			"uz": "Metod topilmadi",
			"ru": "Метод не найден",
			"en": "Method not found",
		},
	}
)

// TransactionError is the domain error every Payme method raises. ID is
// the rpc request id echoed back for correlation; Data names the
// offending account field for not-found style errors ("user_id" or
// "product_id").
type TransactionError struct {
	Info PaymeErrorInfo
	ID   any
	Data any
}

func (e *TransactionError) Error() string {
	return e.Info.Name
}

func newTransactionError(info PaymeErrorInfo, id any) *TransactionError {
	return &TransactionError{Info: info, ID: id}
}

func newFieldError(info PaymeErrorInfo, id any, field string) *TransactionError {
	return &TransactionError{Info: info, ID: id, Data: field}
}
