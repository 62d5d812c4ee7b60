package paypal

// Mode selects the PayPal environment.
type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
)

const (
	sandboxAPIBase = "https://api-m.sandbox.paypal.com"
	liveAPIBase    = "https://api-m.paypal.com"
)

// Credentials identifies a PayPal REST application in one environment.
type Credentials struct {
	ClientID     string
	ClientSecret string
	MerchantID   string
	Mode         Mode
}

// APIBase returns the REST API base URL for the credentials' environment.
func (c Credentials) APIBase() string {
	if c.Mode == ModeLive {
		return liveAPIBase
	}
	return sandboxAPIBase
}

// cacheKey distinguishes token cache entries. The same client ID can
// exist in both environments with unrelated tokens.
func (c Credentials) cacheKey() string {
	return c.ClientID + ":" + string(c.Mode)
}
