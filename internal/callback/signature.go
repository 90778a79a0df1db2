package callback

import (
	"net/url"
	"strings"
)

// Path адрес, на который провайдеры и письма возвращают пользователя.
const Path = "/auth/callback"

// Signature признаки редиректа провайдера в адресе.
type Signature struct {
	AccessToken  string
	Code         string
	Signup       bool
	CallbackPath bool
}

// Present сообщает, что адрес похож на редирект провайдера.
func (s Signature) Present() bool {
	return s.AccessToken != "" || s.Code != "" || s.Signup || s.CallbackPath
}

// key значение, по которому обмен выполняется не больше одного раза.
func (s Signature) key() string {
	switch {
	case s.Code != "":
		return "code:" + s.Code
	case s.AccessToken != "":
		return "token:" + s.AccessToken
	default:
		return ""
	}
}

// Parse ищет признаки редиректа в query и во фрагменте адреса.
// Неразбираемый адрес считается адресом без редиректа.
func Parse(rawURL string) Signature {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Signature{}
	}

	var sig Signature
	sig.CallbackPath = strings.TrimSuffix(u.Path, "/") == Path

	for _, values := range []url.Values{u.Query(), fragmentValues(u.Fragment)} {
		if v := values.Get("access_token"); v != "" && sig.AccessToken == "" {
			sig.AccessToken = v
		}
		if v := values.Get("code"); v != "" && sig.Code == "" {
			sig.Code = v
		}
		if values.Get("type") == "signup" {
			sig.Signup = true
		}
	}
	return sig
}

func fragmentValues(fragment string) url.Values {
	if fragment == "" {
		return url.Values{}
	}
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return url.Values{}
	}
	return values
}
