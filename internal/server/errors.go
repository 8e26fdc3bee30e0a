package server

// ValidationError is one entry of a 422 response body. The shape matches
// what GitHub tooling and existing clients already parse:
//
//	{"detail":[{"loc":["header","x-hub-signature-256"],"msg":"...","type":"...","ctx":{...}}]}
type ValidationError struct {
	Loc  []string       `json:"loc"`
	Msg  string         `json:"msg"`
	Type string         `json:"type"`
	Ctx  map[string]any `json:"ctx,omitempty"`
}

// validationResponse is the 422 body.
type validationResponse struct {
	Detail []ValidationError `json:"detail"`
}

// detailResponse is the body for every other JSON error.
type detailResponse struct {
	Detail string `json:"detail"`
}

const (
	detailInvalidSignature            = "Invalid signature"
	detailInvalidMarketplaceSignature = "Invalid marketplace signature"
	detailMarketplaceSecretNotSet     = "Marketplace secret not set"
	detailInvalidJSON                 = "Invalid JSON body"
	detailInternalError               = "Internal Server Error"
	detailPayloadTooLarge             = "Payload too large"
	detailReadFailed                  = "Failed to read request body"
)
