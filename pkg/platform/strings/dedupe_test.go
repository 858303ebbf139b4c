package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	cases := map[string]struct {
		in   []string
		want []string
	}{
		"nil stays nil":       {nil, nil},
		"empty stays empty":   {[]string{}, []string{}},
		"broker list":         {[]string{" k1:9092", "k2:9092 ", "k1:9092"}, []string{"k1:9092", "k2:9092"}},
		"drops blank entries": {[]string{"accounts.google.com", "", "  "}, []string{"accounts.google.com"}},
		"case is significant": {[]string{"A", "a"}, []string{"A", "a"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, DedupeAndTrim(tc.in))
		})
	}
}
