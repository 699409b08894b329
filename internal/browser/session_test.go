package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcceptLanguage(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		locale string
		want   string
	}{
		{locale: "kk-KZ", want: "kk-KZ,kk;q=0.9,en-US;q=0.8,en;q=0.7"},
		{locale: "de-DE", want: "de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7"},
		{locale: "en-US", want: "en-US,en;q=0.9"},
		{locale: "en", want: "en,en;q=0.9"},
		{locale: "ru", want: "ru,en;q=0.9"},
		{locale: "not a locale", want: "not a locale"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.locale, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, acceptLanguage(tc.locale))
		})
	}
}
