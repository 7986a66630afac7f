package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/graphmend/graphmend/pkg/types"
)

// Node properties managed by the driver itself. Everything else on a node is
// user data and round-trips through Entity.Properties.
var reservedKeys = map[string]bool{
	"id":         true,
	"version":    true,
	"embedding":  true,
	"created_at": true,
	"updated_at": true,
}

// Neo4jStore implements GraphStore against a Neo4j database. Every call
// opens its own session and runs inside an ExecuteRead or ExecuteWrite
// closure, so each ApplyMerge is one managed transaction.
type Neo4jStore struct {
	client   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore connects to a Neo4j instance with basic auth.
func NewNeo4jStore(uri, username, password, database string) (*Neo4jStore, error) {
	client, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jStore{client: client, database: database}, nil
}

func (n *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
}

// escapeLabel quotes a label or relationship type for safe interpolation.
// Cypher has no parameter syntax for labels.
func escapeLabel(label string) string {
	return "`" + strings.ReplaceAll(label, "`", "``") + "`"
}

func (n *Neo4jStore) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (n {id: $id}) RETURN n LIMIT 1`,
			map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, &types.NotFoundError{Kind: "entity", ID: id}
		}
		return nodeFromRecord(records[0], "n")
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Entity), nil
}

func (n *Neo4jStore) GetEntities(ctx context.Context, ids []string) ([]*types.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (n) WHERE n.id IN $ids RETURN n`,
			map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		return collectEntities(ctx, res, "n")
	})
	if err != nil {
		return nil, err
	}
	return result.([]*types.Entity), nil
}

func (n *Neo4jStore) EntitiesByLabel(ctx context.Context, label string) ([]*types.Entity, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	query := `MATCH (n) WHERE n.id IS NOT NULL RETURN n ORDER BY n.id`
	if label != "" {
		query = fmt.Sprintf(`MATCH (n:%s) WHERE n.id IS NOT NULL RETURN n ORDER BY n.id`, escapeLabel(label))
	}

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, nil)
		if err != nil {
			return nil, err
		}
		return collectEntities(ctx, res, "n")
	})
	if err != nil {
		return nil, err
	}
	return result.([]*types.Entity), nil
}

func (n *Neo4jStore) Labels(ctx context.Context) ([]string, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `CALL db.labels() YIELD label RETURN label ORDER BY label`, nil)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		labels := make([]string, 0, len(records))
		for _, record := range records {
			if v, ok := record.Get("label"); ok {
				if s, ok := v.(string); ok {
					labels = append(labels, s)
				}
			}
		}
		return labels, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (n *Neo4jStore) Degrees(ctx context.Context, ids []string) (map[string]int, error) {
	degrees := make(map[string]int, len(ids))
	for _, id := range ids {
		degrees[id] = 0
	}
	if len(ids) == 0 {
		return degrees, nil
	}
	session := n.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (n) WHERE n.id IN $ids
			RETURN n.id AS id, COUNT { (n)--() } AS degree
		`, map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			idVal, _ := record.Get("id")
			degreeVal, _ := record.Get("degree")
			id, _ := idVal.(string)
			degree, _ := degreeVal.(int64)
			degrees[id] = int(degree)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return degrees, nil
}

func (n *Neo4jStore) RelationshipsFor(ctx context.Context, id string) ([]*types.Relationship, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (a {id: $id})-[r]-(b)
			RETURN DISTINCT r, startNode(r).id AS source_id, endNode(r).id AS target_id
			ORDER BY r.id
		`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		return collectRelationships(ctx, res)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*types.Relationship), nil
}

func (n *Neo4jStore) Neighbors(ctx context.Context, id string, limit int) ([]NeighborHit, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	if limit <= 0 {
		limit = 25
	}

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (a {id: $id})-[r]-(b)
			WHERE b.id IS NOT NULL
			RETURN r, startNode(r).id AS source_id, endNode(r).id AS target_id, b
			ORDER BY r.id
			LIMIT $limit
		`, map[string]any{"id": id, "limit": limit})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		hits := make([]NeighborHit, 0, len(records))
		for _, record := range records {
			rel, err := relationshipFromRecord(record)
			if err != nil {
				return nil, err
			}
			other, err := nodeFromRecord(record, "b")
			if err != nil {
				return nil, err
			}
			hits = append(hits, NeighborHit{Relationship: rel, Other: other})
		}
		return hits, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]NeighborHit), nil
}

func (n *Neo4jStore) UpsertEntity(ctx context.Context, e *types.Entity) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.UpdatedAt = time.Now()

	session := n.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
			MERGE (n:%s {id: $id})
			ON CREATE SET n.version = 1, n.created_at = $created_at
			ON MATCH SET n.version = coalesce(n.version, 0) + 1
			SET n += $properties
			SET n.updated_at = $updated_at
		`, escapeLabel(e.Label))
		params := map[string]any{
			"id":         e.ID,
			"properties": userProperties(e.Properties),
			"created_at": e.CreatedAt.Format(time.RFC3339),
			"updated_at": e.UpdatedAt.Format(time.RFC3339),
		}
		if _, err := tx.Run(ctx, query, params); err != nil {
			return nil, err
		}
		if len(e.Embedding) > 0 {
			embedding := make([]float64, len(e.Embedding))
			for i, v := range e.Embedding {
				embedding[i] = float64(v)
			}
			_, err := tx.Run(ctx, `MATCH (n {id: $id}) SET n.embedding = $embedding`,
				map[string]any{"id": e.ID, "embedding": embedding})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (n *Neo4jStore) UpsertRelationship(ctx context.Context, r *types.Relationship) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	session := n.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (a {id: $source_id}), (b {id: $target_id})
			RETURN a.id, b.id
		`, map[string]any{"source_id": r.SourceID, "target_id": r.TargetID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, &types.NotFoundError{Kind: "entity", ID: r.SourceID + "/" + r.TargetID}
		}

		query := fmt.Sprintf(`
			MATCH (a {id: $source_id}), (b {id: $target_id})
			MERGE (a)-[r:%s {id: $id}]->(b)
			ON CREATE SET r.created_at = $created_at
			SET r += $properties
		`, escapeLabel(r.Type))
		_, err = tx.Run(ctx, query, map[string]any{
			"id":         r.ID,
			"source_id":  r.SourceID,
			"target_id":  r.TargetID,
			"properties": userProperties(r.Properties),
			"created_at": r.CreatedAt.Format(time.RFC3339),
		})
		return nil, err
	})
	return err
}

// ApplyMerge runs one duplicate group as a single write transaction: version
// checks, edge rewiring, optional parallel-edge collapse, canonical property
// replacement, and member deletion. Any error rolls the whole group back.
func (n *Neo4jStore) ApplyMerge(ctx context.Context, op MergeOp) (*MergeStats, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (n) WHERE n.id IN $ids
			RETURN n.id AS id, n.version AS version
		`, map[string]any{"ids": op.MemberIDs})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		found := make(map[string]int64, len(records))
		for _, record := range records {
			idVal, _ := record.Get("id")
			versionVal, _ := record.Get("version")
			id, _ := idVal.(string)
			version, _ := versionVal.(int64)
			found[id] = version
		}
		for _, id := range op.MemberIDs {
			version, ok := found[id]
			if !ok {
				return nil, &types.NotFoundError{Kind: "entity", ID: id}
			}
			if op.ExpectedVersions != nil {
				if expected, tracked := op.ExpectedVersions[id]; tracked && version != expected {
					return nil, &types.ConcurrencyConflict{EntityID: id, Expected: expected, Actual: version}
				}
			}
		}

		stats := &MergeStats{}

		// Cypher cannot move a relationship endpoint, so rewiring is a
		// copy-then-delete per rewrite rule.
		for _, rw := range op.Rewrites {
			var query string
			if rw.Endpoint == "source" {
				query = fmt.Sprintf(`
					MATCH (old)-[r:%[1]s {id: $rel_id}]->(t)
					MATCH (c {id: $to_id})
					CREATE (c)-[nr:%[1]s]->(t)
					SET nr = properties(r)
					DELETE r
					RETURN count(nr) AS moved
				`, escapeLabel(rw.Type))
			} else {
				query = fmt.Sprintf(`
					MATCH (s)-[r:%[1]s {id: $rel_id}]->(old)
					MATCH (c {id: $to_id})
					CREATE (s)-[nr:%[1]s]->(c)
					SET nr = properties(r)
					DELETE r
					RETURN count(nr) AS moved
				`, escapeLabel(rw.Type))
			}
			res, err := tx.Run(ctx, query, map[string]any{
				"rel_id": rw.RelationshipID,
				"to_id":  rw.ToID,
			})
			if err != nil {
				return nil, err
			}
			record, err := res.Single(ctx)
			if err == nil {
				if moved, ok := record.Get("moved"); ok {
					if m, ok := moved.(int64); ok {
						stats.Rewired += int(m)
					}
				}
			}
		}

		if op.CollapseParallel {
			res, err := tx.Run(ctx, `
				MATCH (c {id: $canonical_id})-[r]-(other)
				WITH c, other, type(r) AS t, startNode(r).id AS src, collect(r) AS rels
				WHERE size(rels) > 1
				UNWIND tail(rels) AS dup
				DELETE dup
				RETURN count(dup) AS collapsed
			`, map[string]any{"canonical_id": op.CanonicalID})
			if err != nil {
				return nil, err
			}
			record, err := res.Single(ctx)
			if err == nil {
				if collapsed, ok := record.Get("collapsed"); ok {
					if cv, ok := collapsed.(int64); ok {
						stats.Collapsed = int(cv)
					}
				}
			}
		}

		if op.Properties != nil {
			_, err = tx.Run(ctx, `
				MATCH (c {id: $canonical_id})
				SET c = $properties
				SET c.id = $canonical_id,
				    c.version = coalesce($old_version, 0) + 1,
				    c.updated_at = $updated_at
			`, map[string]any{
				"canonical_id": op.CanonicalID,
				"properties":   userProperties(op.Properties),
				"old_version":  found[op.CanonicalID],
				"updated_at":   time.Now().Format(time.RFC3339),
			})
		} else {
			_, err = tx.Run(ctx, `
				MATCH (c {id: $canonical_id})
				SET c.version = coalesce(c.version, 0) + 1,
				    c.updated_at = $updated_at
			`, map[string]any{
				"canonical_id": op.CanonicalID,
				"updated_at":   time.Now().Format(time.RFC3339),
			})
		}
		if err != nil {
			return nil, err
		}

		doomed := make([]string, 0, len(op.MemberIDs))
		for _, id := range op.MemberIDs {
			if id != op.CanonicalID {
				doomed = append(doomed, id)
			}
		}
		if len(doomed) > 0 {
			res, err := tx.Run(ctx, `
				MATCH (n) WHERE n.id IN $ids
				DETACH DELETE n
				RETURN count(n) AS deleted
			`, map[string]any{"ids": doomed})
			if err != nil {
				return nil, err
			}
			record, err := res.Single(ctx)
			if err == nil {
				if deleted, ok := record.Get("deleted"); ok {
					if d, ok := deleted.(int64); ok {
						stats.DeletedMembers = int(d)
					}
				}
			}
		}
		return stats, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*MergeStats), nil
}

func (n *Neo4jStore) MergeLabels(ctx context.Context, canonical string, from []string) (int, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	total := 0
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, label := range from {
			if label == canonical {
				continue
			}
			query := fmt.Sprintf(`
				MATCH (n:%s)
				SET n:%s
				REMOVE n:%s
				SET n.version = coalesce(n.version, 0) + 1
				RETURN count(n) AS relabeled
			`, escapeLabel(label), escapeLabel(canonical), escapeLabel(label))
			res, err := tx.Run(ctx, query, nil)
			if err != nil {
				return nil, err
			}
			record, err := res.Single(ctx)
			if err != nil {
				return nil, err
			}
			if relabeled, ok := record.Get("relabeled"); ok {
				if r, ok := relabeled.(int64); ok {
					total += int(r)
				}
			}
		}
		return nil, nil
	})
	return total, err
}

func (n *Neo4jStore) HasVectorIndex(ctx context.Context, label string) (bool, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			SHOW INDEXES YIELD name, type, labelsOrTypes
			WHERE type = 'VECTOR' AND $label IN labelsOrTypes
			RETURN name
			LIMIT 1
		`, map[string]any{"label": label})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return len(records) > 0, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (n *Neo4jStore) SearchByVector(ctx context.Context, label string, vector []float32, topK int) ([]SearchHit, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	embedding := make([]float64, len(vector))
	for i, v := range vector {
		embedding[i] = float64(v)
	}
	indexName := vectorIndexName(label)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			CALL db.index.vector.queryNodes($index, $topK, $vector)
			YIELD node, score
			RETURN node AS n, score
		`, map[string]any{"index": indexName, "topK": topK, "vector": embedding})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		hits := make([]SearchHit, 0, len(records))
		for _, record := range records {
			entity, err := nodeFromRecord(record, "n")
			if err != nil {
				return nil, err
			}
			scoreVal, _ := record.Get("score")
			score, _ := scoreVal.(float64)
			hits = append(hits, SearchHit{Entity: entity, Score: score})
		}
		return hits, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]SearchHit), nil
}

func (n *Neo4jStore) SearchText(ctx context.Context, tokens []string, labels []string, limit int) ([]SearchHit, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	if limit <= 0 {
		limit = 25
	}
	lowered := make([]string, len(tokens))
	for i, t := range tokens {
		lowered[i] = strings.ToLower(t)
	}

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (n)
			WHERE n.id IS NOT NULL
			  AND (size($labels) = 0 OR any(l IN labels(n) WHERE l IN $labels))
			WITH n, toLower(coalesce(n.name, '') + ' ' + coalesce(n.text, '')) AS haystack
			WITH n, size([t IN $tokens WHERE haystack CONTAINS t]) AS matched
			WHERE matched > 0
			RETURN n, toFloat(matched) / size($tokens) AS score
			ORDER BY score DESC, n.id ASC
			LIMIT $limit
		`, map[string]any{"tokens": lowered, "labels": labels, "limit": limit})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		hits := make([]SearchHit, 0, len(records))
		for _, record := range records {
			entity, err := nodeFromRecord(record, "n")
			if err != nil {
				return nil, err
			}
			scoreVal, _ := record.Get("score")
			score, _ := scoreVal.(float64)
			hits = append(hits, SearchHit{Entity: entity, Score: score})
		}
		return hits, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]SearchHit), nil
}

func (n *Neo4jStore) ExportAll(ctx context.Context) ([]*types.Entity, []*types.Relationship, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	var entities []*types.Entity
	var relationships []*types.Relationship

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (n) WHERE n.id IS NOT NULL RETURN n ORDER BY n.id`, nil)
		if err != nil {
			return nil, err
		}
		entities, err = collectEntities(ctx, res, "n")
		if err != nil {
			return nil, err
		}

		res, err = tx.Run(ctx, `
			MATCH (a)-[r]->(b)
			WHERE a.id IS NOT NULL AND b.id IS NOT NULL
			RETURN r, a.id AS source_id, b.id AS target_id
			ORDER BY r.id
		`, nil)
		if err != nil {
			return nil, err
		}
		relationships, err = collectRelationships(ctx, res)
		return nil, err
	})
	if err != nil {
		return nil, nil, err
	}
	return entities, relationships, nil
}

func (n *Neo4jStore) ImportAll(ctx context.Context, entities []*types.Entity, relationships []*types.Relationship) error {
	for _, e := range entities {
		if err := n.UpsertEntity(ctx, e); err != nil {
			return fmt.Errorf("failed to import entity %s: %w", e.ID, err)
		}
	}
	for _, r := range relationships {
		if err := n.UpsertRelationship(ctx, r); err != nil {
			return fmt.Errorf("failed to import relationship %s: %w", r.ID, err)
		}
	}
	return nil
}

func (n *Neo4jStore) Clear(ctx context.Context) error {
	session := n.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `MATCH (n) DETACH DELETE n`, nil)
		return nil, err
	})
	return err
}

func (n *Neo4jStore) Close(ctx context.Context) error {
	return n.client.Close(ctx)
}

// vectorIndexName follows the convention used at index creation time:
// one vector index per label, named <label>_embedding.
func vectorIndexName(label string) string {
	return strings.ToLower(label) + "_embedding"
}

func userProperties(props map[string]interface{}) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if reservedKeys[k] {
			continue
		}
		out[k] = v
	}
	return out
}

func nodeFromRecord(record *neo4j.Record, key string) (*types.Entity, error) {
	value, ok := record.Get(key)
	if !ok {
		return nil, fmt.Errorf("record has no %q column", key)
	}
	node, ok := value.(dbtype.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected type for node: got %T, expected dbtype.Node", value)
	}
	return entityFromDBNode(node), nil
}

func entityFromDBNode(node dbtype.Node) *types.Entity {
	e := &types.Entity{Properties: make(map[string]interface{})}
	for k, v := range node.Props {
		switch k {
		case "id":
			e.ID, _ = v.(string)
		case "version":
			e.Version, _ = v.(int64)
		case "embedding":
			if raw, ok := v.([]any); ok {
				e.Embedding = make([]float32, 0, len(raw))
				for _, f := range raw {
					if fv, ok := f.(float64); ok {
						e.Embedding = append(e.Embedding, float32(fv))
					}
				}
			}
		case "created_at":
			e.CreatedAt = parseTimeProp(v)
		case "updated_at":
			e.UpdatedAt = parseTimeProp(v)
		default:
			e.Properties[k] = v
		}
	}
	if len(node.Labels) > 0 {
		e.Label = node.Labels[0]
	}
	return e
}

func collectEntities(ctx context.Context, res neo4j.ResultWithContext, key string) ([]*types.Entity, error) {
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	entities := make([]*types.Entity, 0, len(records))
	for _, record := range records {
		e, err := nodeFromRecord(record, key)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func relationshipFromRecord(record *neo4j.Record) (*types.Relationship, error) {
	value, ok := record.Get("r")
	if !ok {
		return nil, fmt.Errorf("record has no relationship column")
	}
	rel, ok := value.(dbtype.Relationship)
	if !ok {
		return nil, fmt.Errorf("unexpected type for relationship: got %T, expected dbtype.Relationship", value)
	}
	out := &types.Relationship{
		Type:       rel.Type,
		Properties: make(map[string]interface{}),
	}
	for k, v := range rel.Props {
		switch k {
		case "id":
			out.ID, _ = v.(string)
		case "created_at":
			out.CreatedAt = parseTimeProp(v)
		default:
			out.Properties[k] = v
		}
	}
	if src, ok := record.Get("source_id"); ok {
		out.SourceID, _ = src.(string)
	}
	if dst, ok := record.Get("target_id"); ok {
		out.TargetID, _ = dst.(string)
	}
	return out, nil
}

func collectRelationships(ctx context.Context, res neo4j.ResultWithContext) ([]*types.Relationship, error) {
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	relationships := make([]*types.Relationship, 0, len(records))
	for _, record := range records {
		r, err := relationshipFromRecord(record)
		if err != nil {
			return nil, err
		}
		relationships = append(relationships, r)
	}
	return relationships, nil
}

func parseTimeProp(v any) time.Time {
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err == nil {
			return parsed
		}
	case time.Time:
		return t
	case dbtype.LocalDateTime:
		return t.Time()
	}
	return time.Time{}
}

var _ GraphStore = (*Neo4jStore)(nil)
