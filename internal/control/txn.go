package control

import (
	"context"
	"time"

	"github.com/tansu-io/tansu/internal/model"
	"github.com/tansu-io/tansu/internal/storage"
)

// InitProducer allocates (or reinitializes) a producer identity, optionally
// binding it to a transactional.id, per spec.md §4.3's init_producer.
func (b *Broker) InitProducer(ctx context.Context, txnID *string, timeout time.Duration, producerID int64, producerEpoch int16) (storage.InitProducerResult, error) {
	result, err := b.engine.InitProducer(ctx, storage.InitProducerRequest{
		Cluster: b.Cluster, TransactionID: txnID, Timeout: timeout,
		ProducerID: producerID, ProducerEpoch: producerEpoch,
	})
	if err != nil {
		return storage.InitProducerResult{}, asKerr(err)
	}
	return result, nil
}

// TxnAddPartitions records that a transaction now touches the given
// topitions, advancing its state to Ongoing (spec.md §4.3's state machine).
func (b *Broker) TxnAddPartitions(ctx context.Context, transactionID string, producerID int64, producerEpoch int16, topitions []model.Topition) error {
	err := b.engine.TxnAddPartitions(ctx, storage.TxnAddPartitionsRequest{
		TransactionID: transactionID, ProducerID: producerID, ProducerEpoch: producerEpoch, Topitions: topitions,
	})
	return asKerr(err)
}

// TxnAddOffsets records that a consumer group participates in a
// transaction, scoping the offsets a later TxnOffsetCommit stages.
func (b *Broker) TxnAddOffsets(ctx context.Context, transactionID string, producerID int64, producerEpoch int16, group string) error {
	return asKerr(b.engine.TxnAddOffsets(ctx, transactionID, producerID, producerEpoch, group))
}

// TxnOffsetCommit stages offsets under a transaction; they become visible
// to OffsetFetch only once TxnEnd commits.
func (b *Broker) TxnOffsetCommit(ctx context.Context, transactionID string, producerID int64, producerEpoch int16, group string, offsets []storage.OffsetCommitRequest) error {
	err := b.engine.TxnOffsetCommit(ctx, storage.TxnOffsetCommitRequest{
		TransactionID: transactionID, ProducerID: producerID, ProducerEpoch: producerEpoch,
		Group: group, Offsets: offsets,
	})
	return asKerr(err)
}

// TxnEnd resolves a transaction: committed advances every participating
// partition's stable watermark to its current high and applies staged
// offsets; aborted discards staged offsets and masks the producer's writes
// from fetches (spec.md §9's abort-masking option).
func (b *Broker) TxnEnd(ctx context.Context, transactionID string, producerID int64, producerEpoch int16, committed bool) error {
	err := b.engine.TxnEnd(ctx, storage.TxnEndRequest{
		TransactionID: transactionID, ProducerID: producerID, ProducerEpoch: producerEpoch, Committed: committed,
	})
	return asKerr(err)
}
