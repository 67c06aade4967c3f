package memory

import (
	"github.com/google/uuid"

	"github.com/ob-labs/personamem-go/pkg/vectorstore"
)

// checkDuplicate searches the vector store for an existing memory
// belonging to personaID whose similarity to vector meets threshold.
// Adapted from the teacher's intelligence.DedupManager.CheckDuplicate,
// rewired to pkg/vectorstore's in-memory similarity search instead of
// a SQL-backed vector store.
func checkDuplicate(vs *vectorstore.Store, personaID string, vector []float32, threshold float64) (bool, uuid.UUID, error) {
	hits, err := vs.Search(vector, vectorstore.SearchOptions{
		Limit:     1,
		Threshold: float32(threshold),
		Filters:   vectorstore.Filters{PersonaID: personaID},
		UseIndex:  true,
	})
	if err != nil {
		return false, uuid.Nil, err
	}
	if len(hits) == 0 {
		return false, uuid.Nil, nil
	}
	return true, hits[0].ID, nil
}
