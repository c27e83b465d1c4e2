package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vitwit/x402-pocket/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Report fields by their JSON names so messages match what callers sent.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Register custom validators
	validate.RegisterValidation("maxdecimals", validateMaxDecimalsTag)
	validate.RegisterValidation("solanaaddress", validateSolanaAddressTag)
}

// ValidateStruct validates s against its struct tags and flattens the
// validator output into a single readable error.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// ParsePaymentRequirements parses and validates a 402 response body. Both the
// pocket shape ({"version", "paymentOptions"}) and the x402 shape
// ({"x402Version", "accepts"}) are accepted; the result is always the pocket shape.
func ParsePaymentRequirements(data []byte) (*types.PaymentRequirements, error) {
	body, err := unwrapJSONString(data)
	if err != nil {
		return nil, parseError(err)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, parseError(err)
	}

	if _, ok := probe["accepts"]; ok {
		return parseX402Response(body)
	}

	var req types.PaymentRequirements
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, parseError(err)
	}

	// Validate using struct tags
	if err := ValidateStruct(&req); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrParseFailed,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	return &req, nil
}

func parseX402Response(body []byte) (*types.PaymentRequirements, error) {
	var resp types.X402Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, parseError(err)
	}

	if err := ValidateStruct(&resp); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrParseFailed,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	req := &types.PaymentRequirements{
		Version:        strconv.Itoa(resp.X402Version),
		Resource:       resp.Accepts[0].Resource,
		Description:    resp.Accepts[0].Description,
		PaymentOptions: make([]types.PaymentOption, 0, len(resp.Accepts)),
	}

	for i, accepted := range resp.Accepts {
		option, err := optionFromAccepted(i, accepted)
		if err != nil {
			return nil, &types.X402Error{
				Code:    types.ErrParseFailed,
				Message: fmt.Sprintf("invalid accepts[%d]", i),
				Cause:   err,
			}
		}
		req.PaymentOptions = append(req.PaymentOptions, option)
	}

	if err := ValidateStruct(req); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrParseFailed,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	return req, nil
}

func optionFromAccepted(index int, a types.AcceptedRequirement) (types.PaymentOption, error) {
	token := a.Asset
	decimals := 0
	if IsNativeAsset(a.Asset) {
		token = types.TokenNative
		decimals = types.NativeDecimals
	} else if d, ok := a.Extra["decimals"].(float64); ok {
		decimals = int(d)
	}

	amount, err := FormatAmountFromAtomic(a.MaxAmountRequired, decimals)
	if err != nil {
		return types.PaymentOption{}, err
	}

	id := fmt.Sprintf("%s-%d", a.Scheme, index)
	if s, ok := a.Extra["paymentOptionId"].(string); ok && s != "" {
		id = s
	}

	return types.PaymentOption{
		ID:        id,
		Amount:    amount.InexactFloat64(),
		Recipient: a.PayTo,
		Token:     token,
		Network:   a.Network,
		Decimals:  decimals,
		Scheme:    a.Scheme,
	}, nil
}

// IsNativeAsset reports whether an x402 asset field designates SOL itself.
func IsNativeAsset(asset string) bool {
	switch strings.ToLower(strings.TrimSpace(asset)) {
	case "", types.TokenNative, "sol", "lamports":
		return true
	}
	return false
}

// ParseCredentials parses Credentials from JSON
func ParseCredentials(data []byte) (*types.Credentials, error) {
	var creds types.Credentials

	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("failed to parse credentials: %v", err),
		}
	}

	if err := ValidateCredentials(&creds); err != nil {
		return nil, err
	}

	return &creds, nil
}

// ValidateCredentials normalizes the network alias in place and validates the record.
func ValidateCredentials(creds *types.Credentials) error {
	if creds == nil {
		return &types.X402Error{Code: types.ErrConfigError, Message: "credentials are required"}
	}

	if creds.Network == "" {
		creds.Network = types.NetworkDevnet
	}

	network, err := types.ParseNetwork(string(creds.Network))
	if err != nil {
		return err
	}
	creds.Network = network
	creds.RPCUrl = strings.TrimSpace(creds.RPCUrl)

	if err := ValidateStruct(creds); err != nil {
		return &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	return nil
}

// NormalizeJSON formats JSON with consistent indentation
func NormalizeJSON(data interface{}) ([]byte, error) {
	return json.MarshalIndent(data, "", "  ")
}

// unwrapJSONString accepts a body that arrives as a JSON document or as a JSON
// string holding one.
func unwrapJSONString(data []byte) ([]byte, error) {
	body := bytes.TrimSpace(data)
	if len(body) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	if body[0] != '"' {
		return body, nil
	}

	var inner string
	if err := json.Unmarshal(body, &inner); err != nil {
		return nil, err
	}

	body = bytes.TrimSpace([]byte(inner))
	if len(body) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}
	return body, nil
}

func parseError(err error) error {
	return &types.X402Error{
		Code:    types.ErrParseFailed,
		Message: "failed to parse payment requirements",
		Cause:   err,
	}
}

func validateMaxDecimalsTag(fl validator.FieldLevel) bool {
	decimals, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}

	amount, err := DecimalFromFloat(fl.Field().Float())
	if err != nil {
		return false
	}

	return ValidatePrecision(amount, decimals) == nil
}

func validateSolanaAddressTag(fl validator.FieldLevel) bool {
	return ValidateSolanaAddress(fl.Field().String()) == nil
}
