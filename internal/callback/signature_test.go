package callback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want Signature
	}{
		{name: "plain page", url: "https://app.example.com/dashboard", want: Signature{}},
		{name: "code in query", url: "https://app.example.com/?code=abc", want: Signature{Code: "abc"}},
		{
			name: "signup link",
			url:  "https://app.example.com/auth/callback?code=abc&type=signup",
			want: Signature{Code: "abc", Signup: true, CallbackPath: true},
		},
		{
			name: "token in fragment",
			url:  "https://app.example.com/#access_token=tok&type=signup",
			want: Signature{AccessToken: "tok", Signup: true},
		},
		{name: "callback path only", url: "/auth/callback/", want: Signature{CallbackPath: true}},
		{name: "relative with query", url: "/login?code=x", want: Signature{Code: "x"}},
		{name: "broken url", url: "://%zz", want: Signature{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.url)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != Signature{}, got.Present())
		})
	}
}
