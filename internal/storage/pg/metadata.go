package pg

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/tansu-io/tansu/internal/storage"
)

// Metadata answers a metadata request for the named topics (or every topic
// in the cluster when topics is empty), assigning each partition a leader
// and replica set via storage.CycleReplicas over the cluster's registered
// brokers.
// leader_epoch is always -1 and offline_replicas always empty: this
// backend has no replication beyond the relational store itself.
func (e *Engine) Metadata(ctx context.Context, cluster string, topics []storage.TopicRef) (storage.MetadataResult, error) {
	brokers, err := e.Brokers(ctx, cluster)
	if err != nil {
		return storage.MetadataResult{}, err
	}
	nodeIDs := make([]int32, len(brokers))
	for i, b := range brokers {
		nodeIDs[i] = b.NodeID
	}

	var controller int32 = -1
	if len(nodeIDs) > 0 {
		controller = nodeIDs[0]
	}

	rows, err := e.topicRows(ctx, cluster, topics)
	if err != nil {
		return storage.MetadataResult{}, err
	}

	result := storage.MetadataResult{Cluster: cluster, ControllerNode: controller, Brokers: brokers}
	for _, tr := range rows {
		t := storage.MetadataTopic{TopicID: tr.id, Name: tr.name}
		seed := int64(binary.BigEndian.Uint64(tr.id[:8]))
		for p := int32(0); p < tr.partitions; p++ {
			replicas := storage.CycleReplicas(nodeIDs, int(p), int(tr.replicationFactor), seed)
			var leader int32 = -1
			if len(replicas) > 0 {
				leader = replicas[0]
			}
			t.Partitions = append(t.Partitions, storage.MetadataPartition{
				Partition:       p,
				LeaderID:        leader,
				LeaderEpoch:     -1,
				ReplicaNodes:    replicas,
				OfflineReplicas: []int32{},
			})
		}
		result.Topics = append(result.Topics, t)
	}
	return result, nil
}

type topicRow struct {
	id                uuid.UUID
	name              string
	partitions        int32
	replicationFactor int32
}

func (e *Engine) topicRows(ctx context.Context, cluster string, refs []storage.TopicRef) ([]topicRow, error) {
	if len(refs) == 0 {
		rows, err := e.db.QueryContext(ctx, `
			SELECT id, name, partitions, replication_factor FROM topic WHERE cluster = $1 ORDER BY name
		`, cluster)
		if err != nil {
			return nil, fmt.Errorf("storage/pg: list topics: %w", err)
		}
		defer rows.Close()

		var out []topicRow
		for rows.Next() {
			var t topicRow
			if err := rows.Scan(&t.id, &t.name, &t.partitions, &t.replicationFactor); err != nil {
				return nil, fmt.Errorf("storage/pg: scan topic: %w", err)
			}
			out = append(out, t)
		}
		return out, rows.Err()
	}

	out := make([]topicRow, 0, len(refs))
	for _, ref := range refs {
		id, err := e.resolveTopicID(ctx, e.db, cluster, ref)
		if err != nil {
			return nil, err
		}
		var t topicRow
		if err := e.db.QueryRowContext(ctx, `
			SELECT id, name, partitions, replication_factor FROM topic WHERE id = $1
		`, id).Scan(&t.id, &t.name, &t.partitions, &t.replicationFactor); err != nil {
			return nil, fmt.Errorf("storage/pg: read topic: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}
