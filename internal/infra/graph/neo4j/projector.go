// Package neo4j projects traced genealogy graphs into Neo4j for ad-hoc
// exploration by recall analysts. The projection is a copy; the event store
// stays the source of truth.
package neo4j

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"tracecore/internal/core"
	"tracecore/pkg/domain"
)

// Config holds connection settings.
type Config struct {
	URI         string
	User        string
	Password    string
	Database    string
	Timeout     time.Duration
	MaxPoolSize int
}

// Projector upserts graphs.
type Projector struct {
	driver   neo4j.DriverWithContext
	database string
	logger   core.Logger
}

// Open creates the driver and verifies connectivity.
func Open(ctx context.Context, cfg Config, logger core.Logger) (*Projector, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, fmt.Errorf("neo4j: uri required")
	}
	user := cfg.User
	if user == "" {
		user = "neo4j"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxPool := cfg.MaxPoolSize
	if maxPool <= 0 {
		maxPool = 50
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = maxPool
		c.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}
	verifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}
	return &Projector{driver: driver, database: cfg.Database, logger: logger}, nil
}

// Close releases the driver.
func (p *Projector) Close(ctx context.Context) error {
	if p == nil || p.driver == nil {
		return nil
	}
	err := p.driver.Close(ctx)
	p.driver = nil
	return err
}

// Projection is the parameter payload written for one graph.
type Projection struct {
	Lots       []map[string]any
	Facilities []map[string]any
	Edges      []map[string]any
}

// BuildProjection flattens g into UNWIND parameters.
func BuildProjection(g *core.Graph, syncedAt time.Time) Projection {
	stamp := syncedAt.UTC().Format(time.RFC3339Nano)
	nodes := g.Nodes()
	var p Projection
	for _, n := range nodes {
		rec := map[string]any{
			"id":        n.ID,
			"label":     n.Label,
			"synced_at": stamp,
		}
		switch n.Kind {
		case domain.NodeLot:
			rec["tlc"] = n.TLC
			p.Lots = append(p.Lots, rec)
		case domain.NodeFacility:
			rec["facility_id"] = n.FacilityID
			p.Facilities = append(p.Facilities, rec)
		}
	}
	for _, e := range g.Edges() {
		p.Edges = append(p.Edges, map[string]any{
			"from_id":     nodes[e.From].ID,
			"to_id":       nodes[e.To].ID,
			"kind":        string(e.Kind),
			"source_id":   e.SourceID,
			"quantity":    e.Quantity.String(),
			"unit":        string(e.Unit),
			"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
			"inferred":    e.Inferred,
			"seed":        g.Seed,
			"synced_at":   stamp,
		})
	}
	return p
}

var schemaStatements = []string{
	`CREATE CONSTRAINT trace_lot_id IF NOT EXISTS FOR (l:Lot) REQUIRE l.id IS UNIQUE`,
	`CREATE CONSTRAINT trace_facility_id IF NOT EXISTS FOR (f:Facility) REQUIRE f.id IS UNIQUE`,
}

const (
	upsertLots = `
UNWIND $nodes AS n
MERGE (l:Lot {id: n.id})
SET l += n
`
	upsertFacilities = `
UNWIND $nodes AS n
MERGE (f:Facility {id: n.id})
SET f += n
`
	upsertEdges = `
UNWIND $rels AS r
MATCH (a {id: r.from_id})
MATCH (b {id: r.to_id})
MERGE (a)-[e:GENEALOGY {kind: r.kind, source_id: r.source_id}]->(b)
SET e.quantity = r.quantity,
    e.unit = r.unit,
    e.occurred_at = r.occurred_at,
    e.inferred = r.inferred,
    e.seed = r.seed,
    e.synced_at = r.synced_at
`
)

// Project upserts every node and edge of g in one write transaction.
func (p *Projector) Project(ctx context.Context, g *core.Graph, syncedAt time.Time) (Projection, error) {
	if p == nil || p.driver == nil {
		return Projection{}, fmt.Errorf("neo4j projector not initialised")
	}
	proj := BuildProjection(g, syncedAt)

	session := p.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: p.database,
	})
	defer func() { _ = session.Close(ctx) }()

	for _, stmt := range schemaStatements {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			if p.logger != nil {
				p.logger.Warn("neo4j schema init failed (continuing)", "error", err)
			}
			continue
		}
		_, _ = res.Consume(ctx)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		batches := []struct {
			query string
			key   string
			rows  []map[string]any
		}{
			{upsertLots, "nodes", proj.Lots},
			{upsertFacilities, "nodes", proj.Facilities},
			{upsertEdges, "rels", proj.Edges},
		}
		for _, b := range batches {
			if len(b.rows) == 0 {
				continue
			}
			res, err := tx.Run(ctx, b.query, map[string]any{b.key: toAny(b.rows)})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return Projection{}, fmt.Errorf("neo4j project %s: %w", g.Seed, err)
	}
	return proj, nil
}

func toAny(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}
