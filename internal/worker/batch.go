package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gtinworks/fulfillment/internal/queue"
)

// HandleCodeBatchImport inserts each code as available, skipping duplicates
// instead of failing. Rerunning the same batch only grows the skipped count,
// so redelivery is harmless.
func (w *Workers) HandleCodeBatchImport(ctx context.Context, job *queue.Job) error {
	payload, err := decode[CodeBatchImportPayload](job)
	if err != nil {
		return err
	}

	res, err := w.codes.BulkImport(ctx, payload.TypeID, payload.Codes)
	if err != nil {
		return err
	}

	log.Info().Int("inserted", res.Inserted).Int("skipped", res.Skipped).
		Msg("Code batch imported")
	return nil
}

// HandleAggregationBatch generates qty derived records for a code+batch,
// each with a serial from the deriver. The unique (code, batch, seq) key
// makes the insert a no-op on redelivery.
func (w *Workers) HandleAggregationBatch(ctx context.Context, job *queue.Job) error {
	payload, err := decode[AggregationBatchPayload](job)
	if err != nil {
		return err
	}

	serials := make([]string, 0, payload.Qty)
	for i := 1; i <= payload.Qty; i++ {
		serial, err := w.serials.Derive(payload.Code, payload.BatchNo, i)
		if err != nil {
			return fmt.Errorf("failed to derive serial %d for batch %s: %w", i, payload.BatchNo, err)
		}
		serials = append(serials, serial)
	}

	inserted, err := w.codes.CreateAggregationRecords(ctx, payload.Code, payload.BatchNo, serials)
	if err != nil {
		return err
	}

	log.Info().Str("code", payload.Code).Str("batch_no", payload.BatchNo).
		Int("inserted", inserted).Int("requested", payload.Qty).
		Msg("Aggregation batch generated")
	return nil
}
