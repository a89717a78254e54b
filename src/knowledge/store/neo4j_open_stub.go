//go:build !neo4j

package store

import "fmt"

// OpenNeo4j requires the neo4j build tag; without it the engine runs on the
// in-memory or Postgres store.
func OpenNeo4j(uri, user, password, database string) (*Neo4jGraphStore, error) {
	return nil, fmt.Errorf("%w: built without the neo4j tag", ErrNeo4jUnavailable)
}
