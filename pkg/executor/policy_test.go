package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLPolicy(t *testing.T) {
	p, err := NewURLPolicy(
		[]string{"https://*.example.com/*", "https://example.com/*"},
		[]string{"https://admin.example.com/*"},
	)
	require.NoError(t, err)

	tests := []struct {
		url     string
		allowed bool
	}{
		{"https://example.com/pricing", true},
		{"https://example.com", true},
		{"https://shop.example.com/cart?x=1", true},
		{"https://admin.example.com/users", false},
		{"https://evil.test/", false},
		{"http://example.com/", false},
		{"javascript:alert(1)", false},
		{"/relative/path", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := p.Check(tt.url)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestURLPolicyEmptyAllowsAll(t *testing.T) {
	p, err := NewURLPolicy(nil, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Check("https://anything.test/x"))
	assert.Error(t, p.Check("ftp://files.test/"))
}

func TestURLPolicyInvalidPattern(t *testing.T) {
	_, err := NewURLPolicy([]string{"https://[invalid"}, nil)
	assert.Error(t, err)
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, target, want string
	}{
		{"https://product.test", "/pricing", "https://product.test/pricing"},
		{"https://product.test/docs/", "./intro", "https://product.test/docs/intro"},
		{"https://product.test/a/b", "?page=2", "https://product.test/a/b?page=2"},
		{"https://product.test", "https://other.test/x", "https://other.test/x"},
		{"", "/pricing", "/pricing"},
		{"not a url", "/pricing", "/pricing"},
		{"https://product.test", "pricing", "pricing"},
	}
	for _, tt := range tests {
		t.Run(tt.base+" "+tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveURL(tt.base, tt.target))
		})
	}
}
