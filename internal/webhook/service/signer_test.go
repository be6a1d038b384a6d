package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign(t *testing.T) {
	// Reference value from the GitHub webhook documentation.
	signature := Sign("It's a Secret to Everybody", []byte("Hello, World!"))

	assert.Equal(t, "sha256=757107ea0eb2509fc211221cce984b8a37570b6d7586c22c46f4379c8b043e17", signature)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":42}`)
	signature := Sign("s3cret", body)

	assert.True(t, VerifySignature("s3cret", body, signature))
	assert.False(t, VerifySignature("other", body, signature))
	assert.False(t, VerifySignature("s3cret", []byte(`{"id":43}`), signature))
}
