package credentialsrepofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/autopost-client/credentials"
	apperrors "github.com/jrsteele09/autopost-client/internal/errors"
)

var _ credentials.Store = (*FakeCredentialStore)(nil)

// FakeCredentialStore keeps the pair in memory. It is used by tests and by hosts that
// do not need persistence.
type FakeCredentialStore struct {
	cred   credentials.Credential
	writes int
	lock   sync.RWMutex
}

func NewFakeCredentialStore() *FakeCredentialStore {
	return &FakeCredentialStore{}
}

func (s *FakeCredentialStore) Get(_ context.Context) (credentials.Credential, bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if !s.cred.Complete() {
		return credentials.Credential{}, false, nil
	}
	return s.cred, true, nil
}

func (s *FakeCredentialStore) Set(_ context.Context, cred credentials.Credential) error {
	if !cred.Complete() {
		return apperrors.ErrIncompleteCredential
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.cred = cred
	s.writes++
	return nil
}

func (s *FakeCredentialStore) Clear(_ context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.cred = credentials.Credential{}
	return nil
}

func (s *FakeCredentialStore) CompareAndSwap(_ context.Context, old, next credentials.Credential) (bool, error) {
	if !next.Complete() {
		return false, apperrors.ErrIncompleteCredential
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.cred.Complete() || s.cred != old {
		return false, nil
	}
	s.cred = next
	s.writes++
	return true, nil
}

func (s *FakeCredentialStore) CompareAndClear(_ context.Context, old credentials.Credential) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.cred.Complete() || s.cred != old {
		return false, nil
	}
	s.cred = credentials.Credential{}
	return true, nil
}

// Writes returns how many times a pair has been written.
func (s *FakeCredentialStore) Writes() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.writes
}
