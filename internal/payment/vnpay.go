package payment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/signature"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	vnpVersion      = "2.1.0"
	vnpDateLayout   = "20060102150405"
	vnpSuccessCode  = "00"
	vnpSecureHash   = "vnp_SecureHash"
	vnpSecureHashTy = "vnp_SecureHashType"
)

var vnpMinorUnits = decimal.NewFromInt(100)

type VNPayConfig struct {
	TmnCode    string `mapstructure:"tmn_code"`
	HashSecret string `mapstructure:"hash_secret"`
	PayURL     string `mapstructure:"pay_url"`
	APIURL     string `mapstructure:"api_url"`
	ReturnURL  string `mapstructure:"return_url"`
	Locale     string `mapstructure:"locale"`
}

// VNPay builds signed redirect URLs locally and uses the merchant API only
// for transaction queries.
type VNPay struct {
	cfg    VNPayConfig
	signer *signature.Signer
	caller *Caller
	now    func() time.Time
}

func NewVNPay(cfg VNPayConfig, caller *Caller) (*VNPay, error) {
	missing := []string{}
	if cfg.TmnCode == "" {
		missing = append(missing, "tmn_code")
	}
	if cfg.HashSecret == "" {
		missing = append(missing, "hash_secret")
	}
	if cfg.PayURL == "" {
		missing = append(missing, "pay_url")
	}
	if cfg.ReturnURL == "" {
		missing = append(missing, "return_url")
	}
	if len(missing) > 0 {
		return nil, &domain.ProviderError{
			Provider: ProviderVNPay,
			Op:       "configure",
			Err:      fmt.Errorf("%w: missing %s", domain.ErrMisconfigured, strings.Join(missing, ", ")),
		}
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}

	return &VNPay{
		cfg:    cfg,
		signer: signature.NewSigner(signature.SHA512, cfg.HashSecret),
		caller: caller,
		now:    time.Now,
	}, nil
}

func (v *VNPay) Name() string { return ProviderVNPay }

func (v *VNPay) CreatePaymentURL(ctx context.Context, req PaymentRequest) (string, error) {
	if !req.Amount.IsPositive() {
		return "", domain.NewValidationError("amount", "amount must be positive")
	}
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = v.cfg.ReturnURL
	}
	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = v.now()
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	params := map[string]string{
		"vnp_Version":    vnpVersion,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    v.cfg.TmnCode,
		"vnp_Amount":     toMinorUnits(req.Amount),
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     strconv.Itoa(req.OrderCode),
		"vnp_OrderInfo":  orderInfo(req.OrderCode) + " " + requestID,
		"vnp_OrderType":  "other",
		"vnp_Locale":     v.cfg.Locale,
		"vnp_ReturnUrl":  returnURL,
		"vnp_IpAddr":     clientIP,
		"vnp_CreateDate": createdAt.In(vietnamTime).Format(vnpDateLayout),
	}

	query := signature.Canonical(signature.Escaped(signature.Sorted(params)))
	return v.cfg.PayURL + "?" + query + "&" + vnpSecureHash + "=" + v.signer.Sign(query), nil
}

func (v *VNPay) ProcessCallback(ctx context.Context, params map[string]string) (*domain.PaymentResult, error) {
	orderCode := params["vnp_TxnRef"]
	received := params[vnpSecureHash]
	if received == "" {
		return rejected(ProviderVNPay, orderCode, "missing vnp_SecureHash")
	}
	for _, k := range []string{"vnp_TxnRef", "vnp_Amount", "vnp_ResponseCode", "vnp_TransactionStatus"} {
		if params[k] == "" {
			return rejected(ProviderVNPay, orderCode, "missing "+k)
		}
	}

	// Only vnp_ fields are covered by the hash; anything else in the query is ours.
	signed := make(map[string]string, len(params))
	for k, val := range params {
		if strings.HasPrefix(k, "vnp_") {
			signed[k] = val
		}
	}
	data := signature.Canonical(signature.Escaped(signature.Sorted(signed, vnpSecureHash, vnpSecureHashTy)))
	if !v.signer.Verify(received, data) {
		return rejected(ProviderVNPay, orderCode, "secure hash mismatch")
	}

	amount, err := fromMinorUnits(params["vnp_Amount"])
	if err != nil {
		return rejected(ProviderVNPay, orderCode, "malformed vnp_Amount")
	}

	responseCode := params["vnp_ResponseCode"]
	success := responseCode == vnpSuccessCode && params["vnp_TransactionStatus"] == vnpSuccessCode
	message := "Payment successful"
	if !success {
		message = "Payment failed: " + responseCode
	}

	return &domain.PaymentResult{
		IsSuccess:     success,
		TransactionID: params["vnp_TransactionNo"],
		OrderCode:     orderCode,
		Amount:        amount,
		Message:       message,
		ResponseCode:  responseCode,
		Verified:      true,
	}, nil
}

type vnpQueryRequest struct {
	RequestID       string `json:"vnp_RequestId"`
	Version         string `json:"vnp_Version"`
	Command         string `json:"vnp_Command"`
	TmnCode         string `json:"vnp_TmnCode"`
	TxnRef          string `json:"vnp_TxnRef"`
	OrderInfo       string `json:"vnp_OrderInfo"`
	TransactionNo   string `json:"vnp_TransactionNo,omitempty"`
	TransactionDate string `json:"vnp_TransactionDate"`
	CreateDate      string `json:"vnp_CreateDate"`
	IPAddr          string `json:"vnp_IpAddr"`
	SecureHash      string `json:"vnp_SecureHash"`
}

type vnpQueryResponse struct {
	ResponseID        string `json:"vnp_ResponseId"`
	Command           string `json:"vnp_Command"`
	ResponseCode      string `json:"vnp_ResponseCode"`
	Message           string `json:"vnp_Message"`
	TmnCode           string `json:"vnp_TmnCode"`
	TxnRef            string `json:"vnp_TxnRef"`
	Amount            string `json:"vnp_Amount"`
	BankCode          string `json:"vnp_BankCode"`
	PayDate           string `json:"vnp_PayDate"`
	TransactionNo     string `json:"vnp_TransactionNo"`
	TransactionType   string `json:"vnp_TransactionType"`
	TransactionStatus string `json:"vnp_TransactionStatus"`
	OrderInfo         string `json:"vnp_OrderInfo"`
	PromotionCode     string `json:"vnp_PromotionCode"`
	PromotionAmount   string `json:"vnp_PromotionAmount"`
	SecureHash        string `json:"vnp_SecureHash"`
}

func (r vnpQueryResponse) hashData() string {
	return strings.Join([]string{
		r.ResponseID, r.Command, r.ResponseCode, r.Message, r.TmnCode, r.TxnRef,
		r.Amount, r.BankCode, r.PayDate, r.TransactionNo, r.TransactionType,
		r.TransactionStatus, r.OrderInfo, r.PromotionCode, r.PromotionAmount,
	}, "|")
}

// VerifyPayment runs a querydr against the merchant API. Only a signed answer
// about the same order is accepted.
func (v *VNPay) VerifyPayment(ctx context.Context, req VerifyRequest) (*domain.PaymentResult, error) {
	if v.cfg.APIURL == "" {
		return nil, &domain.ProviderError{Provider: ProviderVNPay, Op: "querydr", Err: fmt.Errorf("%w: missing api_url", domain.ErrMisconfigured)}
	}
	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	q := vnpQueryRequest{
		RequestID:       uuid.NewString(),
		Version:         vnpVersion,
		Command:         "querydr",
		TmnCode:         v.cfg.TmnCode,
		TxnRef:          strconv.Itoa(req.OrderCode),
		OrderInfo:       "Truy van giao dich " + strconv.Itoa(req.OrderCode),
		TransactionDate: req.CreatedAt.In(vietnamTime).Format(vnpDateLayout),
		CreateDate:      v.now().In(vietnamTime).Format(vnpDateLayout),
		IPAddr:          clientIP,
	}
	if _, err := uuid.Parse(req.TransactionID); err != nil {
		// a provider transaction number, not our local placeholder
		q.TransactionNo = req.TransactionID
	}
	q.SecureHash = v.signer.Sign(strings.Join([]string{
		q.RequestID, q.Version, q.Command, q.TmnCode, q.TxnRef,
		q.TransactionDate, q.CreateDate, q.IPAddr, q.OrderInfo,
	}, "|"))

	var resp vnpQueryResponse
	if err := v.caller.PostJSON(ctx, "querydr", v.cfg.APIURL, q, &resp); err != nil {
		return nil, err
	}
	if resp.SecureHash == "" {
		return nil, &domain.SignatureError{Provider: ProviderVNPay, OrderCode: q.TxnRef, Reason: "querydr response is not signed"}
	}
	if !v.signer.Verify(resp.SecureHash, resp.hashData()) {
		return nil, &domain.SignatureError{Provider: ProviderVNPay, OrderCode: q.TxnRef, Reason: "querydr response hash mismatch"}
	}
	if resp.TxnRef != q.TxnRef {
		return nil, &domain.SignatureError{Provider: ProviderVNPay, OrderCode: q.TxnRef, Reason: "querydr answered for order " + resp.TxnRef}
	}

	result := &domain.PaymentResult{
		IsSuccess:     resp.ResponseCode == vnpSuccessCode && resp.TransactionStatus == vnpSuccessCode,
		TransactionID: resp.TransactionNo,
		OrderCode:     resp.TxnRef,
		Message:       resp.Message,
		ResponseCode:  resp.ResponseCode,
		Verified:      true,
	}
	if result.IsSuccess {
		amount, err := fromMinorUnits(resp.Amount)
		if err != nil {
			return nil, &domain.ProviderError{Provider: ProviderVNPay, Op: "querydr", Err: fmt.Errorf("malformed vnp_Amount %q", resp.Amount)}
		}
		result.Amount = amount
	}
	return result, nil
}

func orderInfo(orderCode int) string {
	return "Thanh toan don hang " + strconv.Itoa(orderCode)
}

func toMinorUnits(amount decimal.Decimal) string {
	return amount.Mul(vnpMinorUnits).Truncate(0).String()
}

func fromMinorUnits(raw string) (decimal.Decimal, error) {
	minor, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return minor.Div(vnpMinorUnits), nil
}
