package schema

// Cookie is an outbound cookie set by a block or a script.
type Cookie struct {
	Name     string `json:"name" mapstructure:"name"`
	Value    string `json:"value" mapstructure:"value"`
	Path     string `json:"path,omitempty" mapstructure:"path"`
	Domain   string `json:"domain,omitempty" mapstructure:"domain"`
	MaxAge   int    `json:"maxAge,omitempty" mapstructure:"maxAge"`
	Secure   bool   `json:"secure,omitempty" mapstructure:"secure"`
	HTTPOnly bool   `json:"httpOnly,omitempty" mapstructure:"httpOnly"`
	SameSite string `json:"sameSite,omitempty" mapstructure:"sameSite"`
}

// Request is the inbound call as seen by a graph walk. The Bridge fills it
// from whatever transport received the call; routeflow never parses raw HTTP
// below this point.
type Request struct {
	Method      string
	Path        string
	Body        any
	Headers     map[string]string
	Cookies     map[string]string
	QueryParams map[string]string
	PathParams  map[string]string
}
