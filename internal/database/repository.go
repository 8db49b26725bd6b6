package database

type PartyRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	UpdateAccount(params UpdateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateParty(params CreatePartyParams) (Party, error)
	GetPartyByExternalId(externalId string) (Party, error)
	ListPartiesByHost(hostId int) ([]Party, error)
	EndParty(id int) error
}
