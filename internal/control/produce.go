package control

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v12/arrow"

	"github.com/tansu-io/tansu/internal/model"
	"github.com/tansu-io/tansu/internal/storage"
)

// ProduceResult is Produce's outcome: the assigned base offset, and — when
// the topic carries a registered schema — the columnar batches rematerialised
// from the accepted records, one per side that has a schema, for downstream
// analytic consumption (spec.md §1/§4.2.2).
type ProduceResult struct {
	BaseOffset int64
	KeyBatch   arrow.Record
	ValueBatch arrow.Record
}

// Produce validates every record in the batch against the topic's
// registered schema (if any), then appends it to the log. Validation runs
// before the append so a rejected batch never touches storage, matching
// spec.md §4.2's "batch is rejected atomically" rule. When the topic has a
// schema, the now-durable batch is rematerialised into columnar form on the
// caller's behalf; a topic with no schema returns only the base offset.
func (b *Broker) Produce(ctx context.Context, topition model.Topition, deflated model.DeflatedBatch) (ProduceResult, error) {
	batch, err := storage.InflateBatch(deflated)
	if err != nil {
		return ProduceResult{}, kerrInvalidRecord(err)
	}

	for i, rec := range batch.Records {
		if err := b.registry.Validate(ctx, topition.Topic, i, rec.Key, rec.Value); err != nil {
			return ProduceResult{}, asKerr(err)
		}
	}

	offset, err := b.engine.Produce(ctx, b.Cluster, topition, deflated)
	if err != nil {
		return ProduceResult{}, asKerr(err)
	}
	result := ProduceResult{BaseOffset: offset}

	keys := make([][]byte, 0, len(batch.Records))
	values := make([][]byte, 0, len(batch.Records))
	for _, rec := range batch.Records {
		keys = append(keys, rec.Key)
		values = append(values, rec.Value)
	}
	if rec, err := b.registry.AsArrow(ctx, topition.Topic, "key", keys); err == nil {
		result.KeyBatch = rec
	}
	if rec, err := b.registry.AsArrow(ctx, topition.Topic, "value", values); err == nil {
		result.ValueBatch = rec
	}
	return result, nil
}

// Fetch reads records starting at offset, subject to the min/max byte
// bounds spec.md §4.3 describes, and re-deflates them for the wire layer.
func (b *Broker) Fetch(ctx context.Context, topition model.Topition, offset int64, minBytes, maxBytes int32) (model.DeflatedBatch, error) {
	batch, err := b.engine.Fetch(ctx, b.Cluster, topition, offset, minBytes, maxBytes)
	if err != nil {
		return model.DeflatedBatch{}, asKerr(err)
	}
	return batch, nil
}

func kerrInvalidRecord(err error) error {
	return asKerr(fmt.Errorf("%w: %v", storage.ErrInvalidRecord, err))
}
