package database

import (
	"github.com/stretchr/testify/mock"
)

type MockPartyRepository struct {
	mock.Mock
}

func (m *MockPartyRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockPartyRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockPartyRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockPartyRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockPartyRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockPartyRepository) CreateParty(params CreatePartyParams) (Party, error) {
	args := m.Called(params)
	return args.Get(0).(Party), args.Error(1)
}
func (m *MockPartyRepository) GetPartyByExternalId(externalId string) (Party, error) {
	args := m.Called(externalId)
	return args.Get(0).(Party), args.Error(1)
}
func (m *MockPartyRepository) ListPartiesByHost(hostId int) ([]Party, error) {
	args := m.Called(hostId)
	return args.Get(0).([]Party), args.Error(1)
}
func (m *MockPartyRepository) EndParty(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
