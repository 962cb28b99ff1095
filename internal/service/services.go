package service

import (
	"github.com/dom/ingest-pipeline/internal/config"
	"github.com/dom/ingest-pipeline/internal/repository"
	"github.com/dom/ingest-pipeline/internal/storage"
)

type Services struct {
	Auth          *AuthService
	Resolver      *IdentifierResolver
	StatusMachine *StatusMachine
	UploadSession *UploadSessionService
	Ingest        *IngestService
	Query         *QueryService
}

func NewServices(repos *repository.Repositories, layout *storage.Layout, cfg *config.Config) (*Services, error) {
	minter, err := NewNumericIDMinter(1, repos.Dataset)
	if err != nil {
		return nil, err
	}

	resolver := NewIdentifierResolver(repos.Dataset)
	machine := NewStatusMachine(repos.Dataset)

	return &Services{
		Auth:          NewAuthService(repos.User, cfg),
		Resolver:      resolver,
		StatusMachine: machine,
		UploadSession: NewUploadSessionService(repos.UploadSession, repos.Dataset, layout, cfg),
		Ingest:        NewIngestService(repos.Dataset, resolver, minter, machine, layout),
		Query:         NewQueryService(repos.Dataset, repos.UploadSession, resolver),
	}, nil
}
