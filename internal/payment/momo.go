package payment

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/signature"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	momoDefaultRequestType = "payWithATM"
	momoSuccessCode        = "0"
)

type MoMoConfig struct {
	PartnerCode   string `mapstructure:"partner_code"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	Endpoint      string `mapstructure:"endpoint"`
	QueryEndpoint string `mapstructure:"query_endpoint"`
	ReturnURL     string `mapstructure:"return_url"`
	IPNURL        string `mapstructure:"ipn_url"`
	RequestType   string `mapstructure:"request_type"`
}

// MoMo creates payments through the MoMo v2 gateway API.
type MoMo struct {
	cfg    MoMoConfig
	signer *signature.Signer
	caller *Caller
}

func NewMoMo(cfg MoMoConfig, caller *Caller) (*MoMo, error) {
	missing := []string{}
	for name, val := range map[string]string{
		"partner_code": cfg.PartnerCode,
		"access_key":   cfg.AccessKey,
		"secret_key":   cfg.SecretKey,
		"endpoint":     cfg.Endpoint,
		"return_url":   cfg.ReturnURL,
		"ipn_url":      cfg.IPNURL,
	} {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.ProviderError{
			Provider: ProviderMoMo,
			Op:       "configure",
			Err:      fmt.Errorf("%w: missing %s", domain.ErrMisconfigured, strings.Join(missing, ", ")),
		}
	}
	if cfg.RequestType == "" {
		cfg.RequestType = momoDefaultRequestType
	}
	if cfg.QueryEndpoint == "" {
		cfg.QueryEndpoint = strings.TrimSuffix(cfg.Endpoint, "/create") + "/query"
	}

	return &MoMo{
		cfg:    cfg,
		signer: signature.NewSigner(signature.SHA256, cfg.SecretKey),
		caller: caller,
	}, nil
}

func (m *MoMo) Name() string { return ProviderMoMo }

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type momoCreateResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
}

func (m *MoMo) CreatePaymentURL(ctx context.Context, req PaymentRequest) (string, error) {
	if !req.Amount.IsPositive() {
		return "", domain.NewValidationError("amount", "amount must be positive")
	}
	redirectURL := req.ReturnURL
	if redirectURL == "" {
		redirectURL = m.cfg.ReturnURL
	}

	body := momoCreateRequest{
		PartnerCode: m.cfg.PartnerCode,
		AccessKey:   m.cfg.AccessKey,
		RequestID:   req.RequestID,
		Amount:      req.Amount.IntPart(),
		OrderID:     strconv.Itoa(req.OrderCode),
		OrderInfo:   orderInfo(req.OrderCode),
		RedirectURL: redirectURL,
		IPNURL:      m.cfg.IPNURL,
		RequestType: m.cfg.RequestType,
		Lang:        "vi",
	}
	if body.RequestID == "" {
		body.RequestID = uuid.NewString()
	}
	body.Signature = m.signer.Sign(signature.Canonical([]signature.Pair{
		{Key: "accessKey", Value: body.AccessKey},
		{Key: "amount", Value: strconv.FormatInt(body.Amount, 10)},
		{Key: "extraData", Value: body.ExtraData},
		{Key: "ipnUrl", Value: body.IPNURL},
		{Key: "orderId", Value: body.OrderID},
		{Key: "orderInfo", Value: body.OrderInfo},
		{Key: "partnerCode", Value: body.PartnerCode},
		{Key: "redirectUrl", Value: body.RedirectURL},
		{Key: "requestId", Value: body.RequestID},
		{Key: "requestType", Value: body.RequestType},
	}))

	var resp momoCreateResponse
	if err := m.caller.PostJSON(ctx, "create", m.cfg.Endpoint, body, &resp); err != nil {
		return "", err
	}
	if resp.ResultCode != 0 {
		return "", &domain.ProviderError{
			Provider: ProviderMoMo,
			Op:       "create",
			Err:      fmt.Errorf("result code %d: %s", resp.ResultCode, resp.Message),
		}
	}
	if resp.PayURL == "" {
		return "", &domain.ProviderError{Provider: ProviderMoMo, Op: "create", Err: fmt.Errorf("empty payUrl")}
	}
	return resp.PayURL, nil
}

var momoCallbackFields = []string{
	"amount", "extraData", "message", "orderId", "orderInfo", "orderType",
	"partnerCode", "payType", "requestId", "responseTime", "resultCode", "transId",
}

// fields that may legitimately be empty on a callback
var momoOptionalFields = map[string]bool{"extraData": true, "message": true, "payType": true, "orderInfo": true}

func (m *MoMo) ProcessCallback(ctx context.Context, params map[string]string) (*domain.PaymentResult, error) {
	orderCode := params["orderId"]
	received := params["signature"]
	if received == "" {
		return rejected(ProviderMoMo, orderCode, "missing signature")
	}

	pairs := make([]signature.Pair, 0, len(momoCallbackFields)+1)
	pairs = append(pairs, signature.Pair{Key: "accessKey", Value: m.cfg.AccessKey})
	for _, k := range momoCallbackFields {
		val, ok := params[k]
		if (!ok || val == "") && !momoOptionalFields[k] {
			return rejected(ProviderMoMo, orderCode, "missing "+k)
		}
		pairs = append(pairs, signature.Pair{Key: k, Value: val})
	}
	if !m.signer.Verify(received, signature.Canonical(pairs)) {
		return rejected(ProviderMoMo, orderCode, "signature mismatch")
	}

	amount, err := decimal.NewFromString(params["amount"])
	if err != nil {
		return rejected(ProviderMoMo, orderCode, "malformed amount")
	}

	resultCode := params["resultCode"]
	success := resultCode == momoSuccessCode
	message := "Payment successful"
	if !success {
		message = "Payment failed: " + params["message"]
	}

	return &domain.PaymentResult{
		IsSuccess:     success,
		TransactionID: params["transId"],
		OrderCode:     orderCode,
		Amount:        amount,
		Message:       message,
		ResponseCode:  resultCode,
		Verified:      true,
	}, nil
}

type momoQueryRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	OrderID     string `json:"orderId"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type momoQueryResponse struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	ExtraData    string `json:"extraData"`
	Amount       int64  `json:"amount"`
	TransID      int64  `json:"transId"`
	PayType      string `json:"payType"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	ResponseTime int64  `json:"responseTime"`
	Signature    string `json:"signature"`
}

func (r momoQueryResponse) signedData(accessKey string) string {
	return signature.Canonical([]signature.Pair{
		{Key: "accessKey", Value: accessKey},
		{Key: "amount", Value: strconv.FormatInt(r.Amount, 10)},
		{Key: "extraData", Value: r.ExtraData},
		{Key: "message", Value: r.Message},
		{Key: "orderId", Value: r.OrderID},
		{Key: "partnerCode", Value: r.PartnerCode},
		{Key: "payType", Value: r.PayType},
		{Key: "requestId", Value: r.RequestID},
		{Key: "responseTime", Value: strconv.FormatInt(r.ResponseTime, 10)},
		{Key: "resultCode", Value: strconv.Itoa(r.ResultCode)},
		{Key: "transId", Value: strconv.FormatInt(r.TransID, 10)},
	})
}

// VerifyPayment queries the order status at MoMo.
func (m *MoMo) VerifyPayment(ctx context.Context, req VerifyRequest) (*domain.PaymentResult, error) {
	q := momoQueryRequest{
		PartnerCode: m.cfg.PartnerCode,
		RequestID:   uuid.NewString(),
		OrderID:     strconv.Itoa(req.OrderCode),
		Lang:        "vi",
	}
	q.Signature = m.signer.Sign(signature.Canonical([]signature.Pair{
		{Key: "accessKey", Value: m.cfg.AccessKey},
		{Key: "orderId", Value: q.OrderID},
		{Key: "partnerCode", Value: q.PartnerCode},
		{Key: "requestId", Value: q.RequestID},
	}))

	var resp momoQueryResponse
	if err := m.caller.PostJSON(ctx, "query", m.cfg.QueryEndpoint, q, &resp); err != nil {
		return nil, err
	}
	if resp.Signature == "" {
		return nil, &domain.SignatureError{Provider: ProviderMoMo, OrderCode: q.OrderID, Reason: "query response is not signed"}
	}
	if !m.signer.Verify(resp.Signature, resp.signedData(m.cfg.AccessKey)) {
		return nil, &domain.SignatureError{Provider: ProviderMoMo, OrderCode: q.OrderID, Reason: "query response signature mismatch"}
	}
	if resp.OrderID != q.OrderID {
		return nil, &domain.SignatureError{Provider: ProviderMoMo, OrderCode: q.OrderID, Reason: "query answered for order " + resp.OrderID}
	}

	result := &domain.PaymentResult{
		IsSuccess:    resp.ResultCode == 0,
		OrderCode:    resp.OrderID,
		Message:      resp.Message,
		ResponseCode: strconv.Itoa(resp.ResultCode),
		Verified:     true,
	}
	if result.IsSuccess {
		result.TransactionID = strconv.FormatInt(resp.TransID, 10)
		result.Amount = decimal.NewFromInt(resp.Amount)
	}
	return result, nil
}
