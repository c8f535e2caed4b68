package coordinator

import "context"

// recordOrCompensate runs the durable record phase of a reserve-then-record
// saga. If the record fails for any reason the reservation is compensated
// before the error returns, so a rejected operation leaves a net-zero
// footprint on the collateral account.
//
// Compensation runs on a cancel-shielded context: once collateral is
// frozen, backing it out must not be abandoned because the caller went
// away. A compensation that still fails is logged and counted; the frozen
// excess it leaves behind is repaired by the reconciler sweep.
func (c *Coordinator) recordOrCompensate(
	ctx context.Context,
	operation string,
	record func(ctx context.Context) error,
	compensate func(ctx context.Context) error,
) error {
	err := record(ctx)
	if err == nil {
		return nil
	}

	c.metrics.CompensationRuns.WithLabelValues(operation).Inc()
	if cerr := compensate(context.WithoutCancel(ctx)); cerr != nil {
		c.metrics.CompensationFailed.WithLabelValues(operation).Inc()
		c.log.Error().Err(cerr).
			Str("operation", operation).
			AnErr("record_error", err).
			Msg("compensation failed, leaving frozen drift")
	}
	return err
}
