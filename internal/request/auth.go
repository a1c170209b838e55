package request

import (
	"sort"
	"strings"
)

type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "apikey"
	AuthOAuth2 AuthType = "oauth2"
)

type APIKeyLocation string

const (
	APIKeyInHeader APIKeyLocation = "header"
	APIKeyInQuery  APIKeyLocation = "query"
)

// AuthSpec is the persisted shape of an auth configuration. Params keys:
//
//	bearer: token
//	basic:  username, password
//	apikey: key, value, in (header|query)
//	oauth2: accessToken, tokenUrl, clientId, clientSecret, scopes (space separated)
type AuthSpec struct {
	Type   AuthType          `json:"type,omitempty"   yaml:"type,omitempty"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

func (a AuthSpec) Clone() AuthSpec {
	out := AuthSpec{Type: a.Type}
	if a.Params != nil {
		out.Params = make(map[string]string, len(a.Params))
		for k, v := range a.Params {
			out.Params[k] = v
		}
	}
	return out
}

// param looks names up in order. An exact key wins over a case-insensitive
// one, and case-insensitive ties go to the smallest key.
func (a AuthSpec) param(names ...string) string {
	if len(a.Params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(a.Params))
	for k := range a.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, name := range names {
		if v, ok := a.Params[name]; ok {
			return v
		}
		for _, k := range keys {
			if strings.EqualFold(k, name) {
				return a.Params[k]
			}
		}
	}
	return ""
}

// Auth is the closed set of auth variants. The builder matches on it
// exhaustively.
type Auth interface {
	authType() AuthType
}

type NoAuth struct{}

type BearerAuth struct {
	Token string
}

type BasicAuth struct {
	Username string
	Password string
}

type APIKeyAuth struct {
	Name  string
	Value string
	In    APIKeyLocation
}

type OAuth2Auth struct {
	AccessToken  string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func (NoAuth) authType() AuthType     { return AuthNone }
func (BearerAuth) authType() AuthType { return AuthBearer }
func (BasicAuth) authType() AuthType  { return AuthBasic }
func (APIKeyAuth) authType() AuthType { return AuthAPIKey }
func (OAuth2Auth) authType() AuthType { return AuthOAuth2 }

func TypeOf(a Auth) AuthType {
	if a == nil {
		return AuthNone
	}
	return a.authType()
}

// Variant decodes a into its tagged form. Unknown types decode to NoAuth.
func (a AuthSpec) Variant() Auth {
	switch AuthType(strings.ToLower(strings.TrimSpace(string(a.Type)))) {
	case AuthBearer:
		return BearerAuth{Token: a.param("token")}
	case AuthBasic:
		return BasicAuth{Username: a.param("username"), Password: a.param("password")}
	case AuthAPIKey, "api-key", "api_key":
		in := APIKeyInHeader
		if strings.EqualFold(strings.TrimSpace(a.param("in", "placement", "location")), "query") {
			in = APIKeyInQuery
		}
		return APIKeyAuth{Name: a.param("key", "name"), Value: a.param("value"), In: in}
	case AuthOAuth2, "oauth":
		return OAuth2Auth{
			AccessToken:  a.param("accessToken", "token"),
			TokenURL:     a.param("tokenUrl"),
			ClientID:     a.param("clientId"),
			ClientSecret: a.param("clientSecret"),
			Scopes:       strings.Fields(a.param("scopes", "scope")),
		}
	default:
		return NoAuth{}
	}
}
