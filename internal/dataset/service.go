package dataset

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Fetcher is the read contract the service needs from storage.
// AnnotatedRequests returns a project's requests with candidates, targets,
// and annotations eagerly resolved; ActiveSchema returns the project's active
// JSON Schema document, or nil when none is set.
type Fetcher interface {
	AnnotatedRequests(ctx context.Context, projectID string) ([]Request, error)
	ActiveSchema(ctx context.Context, projectID string) ([]byte, error)
}

// Service runs classification, aggregation, and dataset assembly over
// persisted data. All operations are read-only and idempotent; a storage
// error aborts the whole call.
type Service struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewService creates a dataset service backed by the given fetcher.
func NewService(f Fetcher) *Service {
	return &Service{fetcher: f, logger: slog.Default()}
}

// load fetches the request graph and active schema concurrently and compiles
// the schema. An uncompilable active schema rejects every candidate rather
// than disabling the check.
func (s *Service) load(ctx context.Context, projectID string) ([]Request, *Schema, error) {
	var (
		reqs      []Request
		schemaDoc []byte
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		reqs, err = s.fetcher.AnnotatedRequests(gCtx, projectID)
		if err != nil {
			return fmt.Errorf("fetching requests: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		schemaDoc, err = s.fetcher.ActiveSchema(gCtx, projectID)
		if err != nil {
			return fmt.Errorf("fetching active schema: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var schema *Schema
	if schemaDoc != nil {
		var err error
		schema, err = CompileSchema(schemaDoc)
		if err != nil {
			s.logger.Warn("active schema does not compile, rejecting all candidates",
				"project_id", projectID, "error", err)
			schema = Broken()
		}
	}
	return reqs, schema, nil
}

// Summarize returns the annotation status of every request in a project.
func (s *Service) Summarize(ctx context.Context, projectID string, t Thresholds) (SummaryReport, error) {
	reqs, schema, err := s.load(ctx, projectID)
	if err != nil {
		return SummaryReport{}, err
	}
	return Summarize(reqs, schema, t), nil
}

// GenerateSFT builds the project's SFT dataset.
func (s *Service) GenerateSFT(ctx context.Context, projectID string, sftThreshold float64) ([]Conversation, error) {
	reqs, schema, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return BuildSFT(reqs, schema, sftThreshold), nil
}

// GenerateDPO builds the project's DPO dataset in the structured format.
func (s *Service) GenerateDPO(ctx context.Context, projectID string, t Thresholds) ([]PreferencePair, error) {
	reqs, schema, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return BuildDPO(reqs, schema, t), nil
}

// GenerateDPOHub builds the project's DPO dataset in the hub export format.
func (s *Service) GenerateDPOHub(ctx context.Context, projectID string, t Thresholds) ([]HubPreferencePair, error) {
	reqs, schema, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return BuildDPOHub(reqs, schema, t), nil
}
