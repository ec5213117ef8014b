// Package graph mirrors the review network into neo4j: organizations, reviews
// and who reviewed whom. Writes are best-effort after the SQL commit; the SQL
// rows stay authoritative. A nil client means the mirror is disabled and every
// write is a no-op.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/platform/neo4jdb"
)

// Enabled reports whether the graph mirror is configured. Callers use it to
// decide between a graph query and its SQL fallback.
func Enabled(client *neo4jdb.Client) bool {
	return client != nil && client.Driver != nil
}

// UpsertOrganization mirrors one organization node.
func UpsertOrganization(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, org *types.Organization) error {
	if !Enabled(client) {
		return nil
	}
	if org == nil || org.ID == uuid.Nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	props := map[string]any{
		"id":         org.ID.String(),
		"name":       org.Name,
		"icao_code":  org.ICAOCode,
		"status":     org.Status,
		"updated_at": org.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"synced_at":  now,
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	ensureSchema(ctx, session, log)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MERGE (o:Organization {id: $id})
SET o += $props
`, map[string]any{"id": props["id"], "props": props})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

// UpsertReview mirrors one review with its HOSTED edge and one
// PROVIDED_REVIEWER edge per seated team member. Reviewer edges are rebuilt
// on every call so removed or declined members drop out of the mirror.
func UpsertReview(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, review *types.PeerReview, members []*types.ReviewTeamMember) error {
	if !Enabled(client) {
		return nil
	}
	if review == nil || review.ID == uuid.Nil || review.HostOrganizationID == uuid.Nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	reviewNode := map[string]any{
		"id":         review.ID.String(),
		"reference":  review.Reference,
		"cycle_year": review.CycleYear,
		"phase":      review.Phase,
		"language":   review.Language,
		"starts_on":  formatDate(review.StartsOn),
		"ends_on":    formatDate(review.EndsOn),
		"updated_at": review.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"synced_at":  now,
	}

	reviewerRels := make([]map[string]any, 0, len(members))
	for _, m := range members {
		if !m.Seated() || m.OrganizationID == uuid.Nil {
			continue
		}
		reviewerRels = append(reviewerRels, map[string]any{
			"org_id":  m.OrganizationID.String(),
			"user_id": m.UserID.String(),
			"role":    m.Role,
		})
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	ensureSchema(ctx, session, log)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Review node + host edge.
		if res, err := tx.Run(ctx, `
MERGE (h:Organization {id: $host_id})
MERGE (r:Review {id: $review.id})
SET r += $review
MERGE (h)-[e:HOSTED]->(r)
SET e.synced_at = $synced_at
`, map[string]any{
			"host_id":   review.HostOrganizationID.String(),
			"review":    reviewNode,
			"synced_at": now,
		}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		// Reviewer edges: drop and recreate from the seated roster.
		if res, err := tx.Run(ctx, `
MATCH (:Organization)-[e:PROVIDED_REVIEWER]->(r:Review {id: $review_id})
DELETE e
`, map[string]any{"review_id": review.ID.String()}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(reviewerRels) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rels AS m
MATCH (r:Review {id: $review_id})
MERGE (o:Organization {id: m.org_id})
MERGE (o)-[e:PROVIDED_REVIEWER {user_id: m.user_id}]->(r)
SET e.role = m.role, e.synced_at = $synced_at
`, map[string]any{
				"review_id": review.ID.String(),
				"rels":      reviewerRels,
				"synced_at": now,
			})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// RecentEncounters counts non-cancelled reviews since the given cycle where
// one of the two organizations hosted and the other provided a reviewer, in
// either direction. The review service uses it for cooling-off checks and
// falls back to SQL when the mirror is disabled.
func RecentEncounters(ctx context.Context, client *neo4jdb.Client, orgA, orgB uuid.UUID, sinceCycle int) (int, error) {
	if !Enabled(client) {
		return 0, fmt.Errorf("graph: mirror disabled")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (a:Organization {id: $org_a}), (b:Organization {id: $org_b})
MATCH (r:Review)
WHERE r.cycle_year >= $since AND r.phase <> 'cancelled'
  AND (((a)-[:PROVIDED_REVIEWER]->(r) AND (b)-[:HOSTED]->(r))
    OR ((b)-[:PROVIDED_REVIEWER]->(r) AND (a)-[:HOSTED]->(r)))
RETURN count(DISTINCT r) AS n
`, map[string]any{
			"org_a": orgA.String(),
			"org_b": orgB.String(),
			"since": sinceCycle,
		})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := rec.Get("n")
		count, ok := n.(int64)
		if !ok {
			return nil, fmt.Errorf("graph: unexpected count type %T", n)
		}
		return count, nil
	})
	if err != nil {
		return 0, err
	}
	return int(out.(int64)), nil
}

// ExchangeBalances returns, per counterpart organization, reviewer seats the
// given organization provided to that counterpart's reviews minus seats
// received from it. Positive means the organization has given more than it
// got.
func ExchangeBalances(ctx context.Context, client *neo4jdb.Client, orgID uuid.UUID) (map[uuid.UUID]int, error) {
	if !Enabled(client) {
		return nil, fmt.Errorf("graph: mirror disabled")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (a:Organization {id: $org_id})-[p:PROVIDED_REVIEWER]->(r:Review)<-[:HOSTED]-(b:Organization)
WHERE r.phase <> 'cancelled' AND b.id <> $org_id
RETURN b.id AS org, count(p) AS provided, 0 AS received
UNION ALL
MATCH (a:Organization {id: $org_id})-[:HOSTED]->(r:Review)<-[p:PROVIDED_REVIEWER]-(b:Organization)
WHERE r.phase <> 'cancelled' AND b.id <> $org_id
RETURN b.id AS org, 0 AS provided, count(p) AS received
`, map[string]any{"org_id": orgID.String()})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}

		balances := make(map[uuid.UUID]int, len(records))
		for _, rec := range records {
			rawOrg, _ := rec.Get("org")
			idStr, ok := rawOrg.(string)
			if !ok {
				continue
			}
			id, err := uuid.Parse(idStr)
			if err != nil {
				continue
			}
			provided, _ := rec.Get("provided")
			received, _ := rec.Get("received")
			p, _ := provided.(int64)
			g, _ := received.(int64)
			balances[id] += int(p) - int(g)
		}
		return balances, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(map[uuid.UUID]int), nil
}

// Best-effort schema init, same statements every call.
func ensureSchema(ctx context.Context, session neo4j.SessionWithContext, log *logger.Logger) {
	stmts := []string{
		`CREATE CONSTRAINT organization_id_unique IF NOT EXISTS FOR (o:Organization) REQUIRE o.id IS UNIQUE`,
		`CREATE CONSTRAINT review_id_unique IF NOT EXISTS FOR (r:Review) REQUIRE r.id IS UNIQUE`,
		`CREATE INDEX review_cycle_idx IF NOT EXISTS FOR (r:Review) ON (r.cycle_year)`,
	}
	for _, q := range stmts {
		if res, err := session.Run(ctx, q, nil); err != nil {
			if log != nil {
				log.Warn("neo4j schema init failed (continuing)", "error", err)
			}
		} else {
			_, _ = res.Consume(ctx)
		}
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
