// Package db persists in-flight transactions and completed executions
// to MySQL via GORM, following the teacher's recorder pattern of
// storing *big.Int amounts as decimal strings.
package db

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// InFlightTxRecord is the database model for one submitted, not-yet-
// terminal transaction (spec.md C2/C8's authoritative nonce ledger).
type InFlightTxRecord struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Chain       string    `gorm:"index:idx_chain_wallet_nonce,unique;not null"`
	Wallet      string    `gorm:"index:idx_chain_wallet_nonce,unique;not null"`
	Nonce       uint64    `gorm:"index:idx_chain_wallet_nonce,unique;not null"`
	TxHash      string    `gorm:"index;not null"`
	State       int       `gorm:"not null;comment:TxState as integer"`
	GasPrice    string    `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	RetryCount  int       `gorm:"not null;default:0"`
	BlockNumber *uint64   `gorm:""`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (InFlightTxRecord) TableName() string {
	return "inflight_txs"
}

// ExecutionRecord is the database model for one dispatched opportunity,
// persisted regardless of whether it was accepted or dropped.
type ExecutionRecord struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	OpportunityID string    `gorm:"index;not null"`
	Chain         string    `gorm:"not null"`
	Strategy      string    `gorm:"not null"`
	Wallet        string    `gorm:"not null"`
	Nonce         uint64    `gorm:""`
	TxHash        string    `gorm:"index"`
	RelayID       string    `gorm:""`
	NetEVUSD      float64   `gorm:""`
	Accepted      bool      `gorm:"not null"`
	DropReason    string    `gorm:"type:varchar(512)"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (ExecutionRecord) TableName() string {
	return "executions"
}

// ExecutionStore persists InFlightTx lifecycle events and execution
// outcomes via GORM over MySQL; it satisfies executor.Recorder.
type ExecutionStore struct {
	db *gorm.DB
}

// NewExecutionStore opens a MySQL connection and migrates the schema.
// dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func NewExecutionStore(dsn string) (*ExecutionStore, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to mysql: %w", err)
	}
	return NewExecutionStoreWithDB(gdb)
}

// NewExecutionStoreWithDB wraps an existing GORM DB instance (used by
// tests against a sqlmock-backed connection).
func NewExecutionStoreWithDB(gdb *gorm.DB) (*ExecutionStore, error) {
	if err := gdb.AutoMigrate(&InFlightTxRecord{}, &ExecutionRecord{}); err != nil {
		return nil, fmt.Errorf("db: migrate schema: %w", err)
	}
	return &ExecutionStore{db: gdb}, nil
}

// RecordAccepted persists the first leg of a successfully dispatched
// bundle: the reserved nonce as a pending in-flight tx, and the
// execution outcome row.
func (s *ExecutionStore) RecordAccepted(ctx context.Context, chain, wallet string, nonce uint64, ticket types.BundleTicket) error {
	inflight := InFlightTxRecord{
		Chain:    chain,
		Wallet:   wallet,
		Nonce:    nonce,
		TxHash:   ticket.TxHash,
		State:    int(types.TxPending),
		GasPrice: "0",
	}
	if err := s.db.WithContext(ctx).Create(&inflight).Error; err != nil {
		return fmt.Errorf("db: record inflight tx: %w", err)
	}

	execution := ExecutionRecord{
		Chain:    chain,
		Wallet:   wallet,
		Nonce:    nonce,
		TxHash:   ticket.TxHash,
		RelayID:  ticket.RelayID,
		Accepted: true,
	}
	if err := s.db.WithContext(ctx).Create(&execution).Error; err != nil {
		return fmt.Errorf("db: record execution: %w", err)
	}
	return nil
}

// RecordDropped persists an opportunity that never reached dispatch,
// along with the reason it was dropped.
func (s *ExecutionStore) RecordDropped(ctx context.Context, oppID string, reason string) error {
	execution := ExecutionRecord{
		OpportunityID: oppID,
		Accepted:      false,
		DropReason:    reason,
	}
	if err := s.db.WithContext(ctx).Create(&execution).Error; err != nil {
		return fmt.Errorf("db: record dropped opportunity: %w", err)
	}
	return nil
}

// UpdateInFlightState transitions a previously recorded in-flight tx
// to a terminal or replaced state, matching what noncemgr.Manager.Sweep
// observes on-chain.
func (s *ExecutionStore) UpdateInFlightState(ctx context.Context, chain, wallet string, nonce uint64, state types.TxState, blockNumber *uint64) error {
	result := s.db.WithContext(ctx).Model(&InFlightTxRecord{}).
		Where("chain = ? AND wallet = ? AND nonce = ?", chain, wallet, nonce).
		Updates(map[string]interface{}{
			"state":        int(state),
			"block_number": blockNumber,
		})
	if result.Error != nil {
		return fmt.Errorf("db: update inflight tx state: %w", result.Error)
	}
	return nil
}

// UpdateGasPrice persists a fee-bump replacement's new gas price
// against its in-flight row, matching noncemgr.Manager.BuildReplacement.
func (s *ExecutionStore) UpdateGasPrice(ctx context.Context, chain, wallet string, nonce uint64, gasPrice *big.Int) error {
	result := s.db.WithContext(ctx).Model(&InFlightTxRecord{}).
		Where("chain = ? AND wallet = ? AND nonce = ?", chain, wallet, nonce).
		Update("gas_price", bigIntToString(gasPrice))
	if result.Error != nil {
		return fmt.Errorf("db: update gas price: %w", result.Error)
	}
	return nil
}

// LatestNonce returns the highest recorded nonce for a (chain, wallet).
// noncemgr's seedFromChain does not consult it; that seeds from the
// RPC's pending-nonce count alone.
func (s *ExecutionStore) LatestNonce(ctx context.Context, chain, wallet string) (uint64, error) {
	var record InFlightTxRecord
	result := s.db.WithContext(ctx).
		Where("chain = ? AND wallet = ?", chain, wallet).
		Order("nonce DESC").
		First(&record)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("db: fetch latest nonce: %w", result.Error)
	}
	return record.Nonce, nil
}

// CountExecutions returns how many opportunities were recorded as
// accepted vs dropped, for operational dashboards.
func (s *ExecutionStore) CountExecutions(ctx context.Context, accepted bool) (int64, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&ExecutionRecord{}).
		Where("accepted = ?", accepted).
		Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("db: count executions: %w", result.Error)
	}
	return count, nil
}

// Close closes the underlying database connection.
func (s *ExecutionStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("db: get underlying conn: %w", err)
	}
	return sqlDB.Close()
}

// bigIntToString safely converts *big.Int to string, handling nil
// values (the teacher's column convention for wei amounts).
func bigIntToString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}
