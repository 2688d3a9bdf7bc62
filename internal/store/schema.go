package store

// schema is valid for both postgres and sqlite. Counters are stored as
// BIGINT, so the store refuses values above math.MaxInt64 with
// ArithmeticOverflow before they reach the driver.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS producers (
		id               TEXT PRIMARY KEY,
		energy_available BIGINT NOT NULL DEFAULT 0,
		energy_price     BIGINT NOT NULL DEFAULT 0,
		energy_sold      BIGINT NOT NULL DEFAULT 0,
		revenue          BIGINT NOT NULL DEFAULT 0,
		rating           BIGINT NOT NULL DEFAULT 0,
		rating_count     BIGINT NOT NULL DEFAULT 0,
		paused           BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS consumers (
		id               TEXT PRIMARY KEY,
		energy_consumed  BIGINT NOT NULL DEFAULT 0,
		total_spent      BIGINT NOT NULL DEFAULT 0,
		energy_purchased BIGINT NOT NULL DEFAULT 0,
		refund_amount    BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		consumer_id   TEXT NOT NULL,
		producer_id   TEXT NOT NULL,
		purchased     BIGINT NOT NULL DEFAULT 0,
		refunded      BIGINT NOT NULL DEFAULT 0,
		spent         BIGINT NOT NULL DEFAULT 0,
		refunded_cost BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (consumer_id, producer_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_purchases_producer ON purchases (producer_id)`,
	`CREATE TABLE IF NOT EXISTS processed_batches (
		batch_id     TEXT PRIMARY KEY,
		next_seq     BIGINT NOT NULL DEFAULT 0,
		processed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}
