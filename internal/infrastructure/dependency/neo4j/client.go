package neo4j

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/veracta/doclifecycle/internal/core/domain"
	"github.com/veracta/doclifecycle/internal/infrastructure/resilience"
)

// Client reads the document dependency graph owned by the document
// collaborator. This subsystem never writes to the graph.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	executor *resilience.Executor
}

type Options struct {
	Database           string
	ResilienceExecutor *resilience.Executor
}

func New(ctx context.Context, uri, username, password string, options Options) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Client{
		driver:   driver,
		database: options.Database,
		executor: options.ResilienceExecutor,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// ActiveDependents returns every document that declares a dependency on
// documentRef, with its current lifecycle state. The caller decides which
// states block obsolescence.
func (c *Client) ActiveDependents(ctx context.Context, documentRef string) ([]domain.DependentDocument, error) {
	var out []domain.DependentDocument

	call := func(ctx context.Context) error {
		session := c.driver.NewSession(ctx, neo4j.SessionConfig{
			AccessMode:   neo4j.AccessModeRead,
			DatabaseName: c.database,
		})
		defer session.Close(ctx)

		result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, `
MATCH (d:Document)-[:DEPENDS_ON]->(:Document {ref: $ref})
RETURN d.ref AS ref, d.state AS state
ORDER BY d.ref
`, map[string]any{"ref": documentRef})
			if err != nil {
				return nil, err
			}

			dependents := make([]domain.DependentDocument, 0)
			for res.Next(ctx) {
				record := res.Record()
				ref, _ := record.Get("ref")
				state, _ := record.Get("state")
				dep := domain.DependentDocument{}
				if s, ok := ref.(string); ok {
					dep.DocumentRef = s
				}
				if s, ok := state.(string); ok {
					dep.State = domain.StateCode(s)
				}
				if dep.DocumentRef != "" {
					dependents = append(dependents, dep)
				}
			}
			if err := res.Err(); err != nil {
				return nil, err
			}
			return dependents, nil
		})
		if err != nil {
			return fmt.Errorf("dependency query for %s: %w", documentRef, err)
		}
		out = result.([]domain.DependentDocument)
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "dependency.query", call, classifyNeo4jError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func classifyNeo4jError(err error) resilience.ErrorClass {
	if err == nil {
		return resilience.ErrorClass{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClass{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if resilience.IsCircuitOpen(err) || neo4j.IsRetryable(err) {
		return resilience.ErrorClass{
			Retryable:     true,
			RecordFailure: true,
		}
	}
	return resilience.ErrorClass{
		Retryable:     false,
		RecordFailure: true,
	}
}
