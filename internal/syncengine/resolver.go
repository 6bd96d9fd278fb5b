package syncengine

import (
	"encoding/json"

	"github.com/mmcdole/offgrid/internal/domain"
)

// ResolveByPolicy is the default merge resolver.
//
//   - server_wins discards the task
//   - client_wins retries with the task body unchanged
//   - merge overlays the client object onto the server object; when either
//     side is not a JSON object the client body is kept
func ResolveByPolicy(task domain.SyncTask, server *domain.Response, policy domain.ConflictPolicy) ([]byte, error) {
	switch policy {
	case domain.ConflictServerWins:
		return nil, domain.ErrDiscardTask
	case domain.ConflictMerge:
		return mergeObjects(server, task.Request.Body), nil
	default:
		return task.Request.Body, nil
	}
}

func mergeObjects(server *domain.Response, client []byte) []byte {
	if server == nil {
		return client
	}
	var base, overlay map[string]json.RawMessage
	if err := json.Unmarshal(server.Body, &base); err != nil || base == nil {
		return client
	}
	if err := json.Unmarshal(client, &overlay); err != nil || overlay == nil {
		return client
	}
	for k, v := range overlay {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return client
	}
	return merged
}
