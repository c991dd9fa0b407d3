package secretstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	cause := errors.New("ResourceExistsException")
	tests := []struct {
		name            string
		err             error
		wantConflict    bool
		wantNotFound    bool
		wantUnavailable bool
	}{
		{
			name:         "conflict",
			err:          ConflictError{Store: "memory", Name: "svc-keys/public", Err: cause},
			wantConflict: true,
		},
		{
			name:         "wrapped conflict",
			err:          fmt.Errorf("create public key: %w", ConflictError{Store: "memory", Name: "a/public"}),
			wantConflict: true,
		},
		{
			name:         "not found",
			err:          NotFoundError{Store: "memory", Name: "a/private"},
			wantNotFound: true,
		},
		{
			name:            "unavailable",
			err:             UnavailableError{Store: "aws.secretsmanager", Op: "ListSecrets", Err: errors.New("dial tcp: timeout")},
			wantUnavailable: true,
		},
		{
			name: "plain error",
			err:  errors.New("something else"),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantConflict, IsConflict(tt.err))
			assert.Equal(t, tt.wantNotFound, IsNotFound(tt.err))
			assert.Equal(t, tt.wantUnavailable, IsUnavailable(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `memory: secret "svc-keys/public" already exists`,
		ConflictError{Store: "memory", Name: "svc-keys/public"}.Error())
	assert.Equal(t, `memory: secret "svc-keys/private" not found`,
		NotFoundError{Store: "memory", Name: "svc-keys/private"}.Error())
	assert.Equal(t, `aws.secretsmanager: DeleteSecret "x/public": throttled`,
		UnavailableError{Store: "aws.secretsmanager", Op: "DeleteSecret", Name: "x/public", Err: errors.New("throttled")}.Error())
	assert.Equal(t, `gcp.secretmanager: ListSecrets: denied`,
		UnavailableError{Store: "gcp.secretmanager", Op: "ListSecrets", Err: errors.New("denied")}.Error())
}

func TestUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("root cause")
	assert.ErrorIs(t, ConflictError{Err: cause}, cause)
	assert.ErrorIs(t, UnavailableError{Err: cause}, cause)
}
