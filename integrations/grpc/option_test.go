package grpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finplat/jwt-trust/core"
)

func TestNew_InvalidConfiguration(t *testing.T) {
	for name, opts := range map[string][]Option{
		"missing validator":   nil,
		"nil validator":       {WithValidator(nil)},
		"nil logger":          {WithValidator(noopValidator), WithLogger(nil)},
		"nil token extractor": {WithValidator(noopValidator), WithTokenExtractor(nil)},
		"nil error handler":   {WithValidator(noopValidator), WithErrorHandler(nil)},
	} {
		_, err := New(opts...)
		assert.Error(t, err, name)
	}
}

var noopValidator = core.ValidatorFunc(func(context.Context, string) (any, error) { return nil, nil })

func TestOptions(t *testing.T) {
	interceptor, err := New(
		WithValidator(noopValidator),
		WithLogger(core.NopLogger{}),
		WithExcludedMethods("/a.B/C", "/a.B/D"),
	)
	require.NoError(t, err)

	assert.True(t, interceptor.excludedMethods["/a.B/C"])
	assert.True(t, interceptor.excludedMethods["/a.B/D"])
	assert.Nil(t, interceptor.builder)
	assert.NotNil(t, interceptor.core)
}
