package negotiate

// Config holds every field a caller mutates via setters before Connect(),
// the single owned value-type spec's design notes call for in place of the
// original's scattered globals. Client embeds Config so its setters are
// callable directly on the negotiator.
type Config struct {
	host string
	port int

	negotiationEnabled bool
	enableRDP          bool
	enableTLS          bool
	enableNLA          bool

	cookie          string
	cookieMaxLength int
	routingToken    string

	sendPreconnectionPDU bool
	preconnectionID      uint32
	preconnectionBlob    string
}

// defaultCookieMaxLength matches Windows' mstshash convention in practice;
// MS-RDPBCGR does not specify a limit, so callers that need a different
// bound should call SetCookieMaxLength explicitly.
const defaultCookieMaxLength = 9

func defaultConfig() Config {
	return Config{
		negotiationEnabled: true,
		cookieMaxLength:    defaultCookieMaxLength,
	}
}

// SetTarget stores the TCP target used by every ConnectTCP call this
// negotiator makes.
func (c *Config) SetTarget(host string, port int) {
	c.host = host
	c.port = port
}

// SetNegotiationEnabled is the master switch for the RDP_NEG_DATA exchange;
// when false the caller-chosen (strongest enabled) protocol is assumed and
// the CR/CC exchange carries no rdpNegData.
func (c *Config) SetNegotiationEnabled(enabled bool) {
	c.negotiationEnabled = enabled
}

// EnableRDP enables standard RDP security as a fallback/selectable
// protocol.
func (c *Config) EnableRDP(enabled bool) {
	c.enableRDP = enabled
}

// EnableTLS enables Enhanced RDP Security (TLS).
func (c *Config) EnableTLS(enabled bool) {
	c.enableTLS = enabled
}

// EnableNLA enables CredSSP/NLA (Hybrid).
func (c *Config) EnableNLA(enabled bool) {
	c.enableNLA = enabled
}

// SetCookie sets the mstshash identification cookie. Mutually exclusive
// with the routing token; the routing token wins when both are set.
func (c *Config) SetCookie(cookie string) {
	c.cookie = cookie
}

// SetCookieMaxLength bounds how many bytes of the cookie are serialized.
func (c *Config) SetCookieMaxLength(n int) {
	c.cookieMaxLength = n
}

// SetRoutingToken sets a load-balancer-supplied routing token, taking
// precedence over any cookie.
func (c *Config) SetRoutingToken(token string) {
	c.routingToken = token
}

// SetSendPreconnectionPDU enables emission of the Hyper-V preconnection PDU
// ahead of the TPKT/X.224 exchange.
func (c *Config) SetSendPreconnectionPDU(enabled bool) {
	c.sendPreconnectionPDU = enabled
}

// SetPreconnectionID sets the preconnection PDU's VM identifier.
func (c *Config) SetPreconnectionID(id uint32) {
	c.preconnectionID = id
}

// SetPreconnectionBlob sets the preconnection PDU's UTF-16 identification
// string.
func (c *Config) SetPreconnectionBlob(blob string) {
	c.preconnectionBlob = blob
}
