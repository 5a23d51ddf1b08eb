package ports

import "context"

// ArtifactStore is the single-operation object-storage capability used to
// stage oversized templates (spec §1 external collaborator).
type ArtifactStore interface {
	Put(ctx context.Context, key string, body []byte) (url string, err error)
}
