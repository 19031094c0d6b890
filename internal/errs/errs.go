package errs

import "errors"

// Error codes shared across services. They travel inside rejection events and
// notification logs, so renaming one is a wire-format change.
const (
	CodeInvalidRequest             = "INVALID_REQUEST"
	CodeOrderNotFound              = "ORDER_NOT_FOUND"
	CodeOrderInvalidState          = "ORDER_INVALID_STATE"
	CodeInsufficientStock          = "INSUFFICIENT_STOCK"
	CodeProductNotFound            = "PRODUCT_NOT_FOUND"
	CodeStockAdmissionLimited      = "STOCK_ADMISSION_LIMITED"
	CodeStockGuardrailUnavailable  = "STOCK_GUARDRAIL_UNAVAILABLE"
	CodeStockGuardrailBlocked      = "STOCK_GUARDRAIL_BLOCKED"
	CodeNotificationInvalidTarget  = "NOTIFICATION_INVALID_TARGET"
	CodeNotificationInvalidChannel = "NOTIFICATION_INVALID_CHANNEL"
)

// BusinessRuleError is an expected, domain-meaningful rejection. Consumers
// treat it as a handled outcome (compensate, complete the message); anything
// else bubbling out of a handler is a technical failure and gets retried.
type BusinessRuleError struct {
	Code    string
	Message string
}

func (e *BusinessRuleError) Error() string { return e.Code + ": " + e.Message }

// BusinessRule builds a BusinessRuleError.
func BusinessRule(code, message string) *BusinessRuleError {
	return &BusinessRuleError{Code: code, Message: message}
}

// AsBusinessRule unwraps err into a BusinessRuleError if it is one.
func AsBusinessRule(err error) (*BusinessRuleError, bool) {
	var bre *BusinessRuleError
	if errors.As(err, &bre) {
		return bre, true
	}
	return nil, false
}
