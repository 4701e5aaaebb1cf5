package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxsocial/notifygw/internal/model"
)

type fakeIdentities struct {
	byID map[string]*model.Identity
	err  error
}

func (f *fakeIdentities) GetByID(_ context.Context, id string) (*model.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byID[id], nil
}

const testSecret = "test-secret"

func newTestValidator() *Validator {
	return NewValidator(testSecret, &fakeIdentities{byID: map[string]*model.Identity{
		"u-alice": {ID: "u-alice", Username: "alice", Privacy: model.PrivacyPublic},
	}})
}

func TestAdmit_ValidToken(t *testing.T) {
	t.Parallel()

	v := newTestValidator()
	token, err := Sign(testSecret, "u-alice", time.Minute)
	require.NoError(t, err)

	ident, err := v.Admit(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u-alice", ident.ID)
}

func TestAdmit_EmptyToken(t *testing.T) {
	t.Parallel()

	v := newTestValidator()
	_, err := v.Admit(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAdmit_ExpiredToken(t *testing.T) {
	t.Parallel()

	v := newTestValidator()
	token, err := Sign(testSecret, "u-alice", -time.Minute)
	require.NoError(t, err)

	_, err = v.Admit(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.ErrorIs(t, err, ErrUnauthorized, "expiry is still an admission failure")
}

func TestAdmit_WrongSecret(t *testing.T) {
	t.Parallel()

	v := newTestValidator()
	token, err := Sign("other-secret", "u-alice", time.Minute)
	require.NoError(t, err)

	_, err = v.Admit(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAdmit_UnknownSubject(t *testing.T) {
	t.Parallel()

	v := newTestValidator()
	token, err := Sign(testSecret, "u-ghost", time.Minute)
	require.NoError(t, err)

	_, err = v.Admit(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAdmit_BackendErrorIsNotUnauthorized(t *testing.T) {
	t.Parallel()

	v := NewValidator(testSecret, &fakeIdentities{err: errors.New("db down")})
	token, err := Sign(testSecret, "u-alice", time.Minute)
	require.NoError(t, err)

	_, err = v.Admit(context.Background(), token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}
