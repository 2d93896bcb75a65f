package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lendcore/fixedpoint"
	"lendcore/native/lending"
)

// Store persists reserves and positions in sqlite. Fixed-point values are
// stored as decimal strings of their raw wad representation so no precision is
// lost crossing the database boundary. It satisfies the engine's state
// interface: lookups return nil for absent records and each Put replaces the
// whole record.
type Store struct {
	db *gorm.DB
}

type reserveRecord struct {
	ID                  string `gorm:"primaryKey;size:36"`
	AvailableLiquidity  string `gorm:"not null"`
	TotalBorrowed       string `gorm:"not null"`
	BorrowIndex         string `gorm:"not null"`
	SupplyIndex         string `gorm:"not null"`
	LastUpdateTimestamp int64
	Params              string `gorm:"not null"`
	FeesProtocol        string `gorm:"not null"`
}

func (reserveRecord) TableName() string { return "reserves" }

type positionRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	Owner      string `gorm:"index;size:42;not null"`
	Collateral string `gorm:"not null"`
	Debt       string `gorm:"not null"`
}

func (positionRecord) TableName() string { return "positions" }

// Open opens (and migrates) the sqlite database at path. Use ":memory:" for an
// ephemeral store.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&reserveRecord{}, &positionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// GetReserve loads a reserve by id, returning nil when absent.
func (s *Store) GetReserve(id uuid.UUID) (*lending.Reserve, error) {
	var record reserveRecord
	err := s.db.First(&record, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load reserve: %w", err)
	}
	return decodeReserve(record)
}

// PutReserve upserts the full reserve record.
func (s *Store) PutReserve(reserve *lending.Reserve) error {
	record, err := encodeReserve(reserve)
	if err != nil {
		return err
	}
	if err := s.db.Save(&record).Error; err != nil {
		return fmt.Errorf("save reserve: %w", err)
	}
	return nil
}

// GetPosition loads a position by id, returning nil when absent.
func (s *Store) GetPosition(id uuid.UUID) (*lending.Position, error) {
	var record positionRecord
	err := s.db.First(&record, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	return decodePosition(record)
}

// PutPosition upserts the full position record.
func (s *Store) PutPosition(position *lending.Position) error {
	record, err := encodePosition(position)
	if err != nil {
		return err
	}
	if err := s.db.Save(&record).Error; err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// DeletePosition removes a position record. Deleting an absent position is
// not an error.
func (s *Store) DeletePosition(id uuid.UUID) error {
	if err := s.db.Delete(&positionRecord{}, "id = ?", id.String()).Error; err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

func encodeReserve(reserve *lending.Reserve) (reserveRecord, error) {
	params, err := json.Marshal(reserve.Params)
	if err != nil {
		return reserveRecord{}, fmt.Errorf("encode reserve params: %w", err)
	}
	return reserveRecord{
		ID:                  reserve.ID.String(),
		AvailableLiquidity:  reserve.AvailableLiquidity.RawString(),
		TotalBorrowed:       reserve.TotalBorrowed.RawString(),
		BorrowIndex:         reserve.BorrowIndex.RawString(),
		SupplyIndex:         reserve.SupplyIndex.RawString(),
		LastUpdateTimestamp: reserve.LastUpdateTimestamp,
		Params:              string(params),
		FeesProtocol:        reserve.Fees.Protocol.RawString(),
	}, nil
}

func decodeReserve(record reserveRecord) (*lending.Reserve, error) {
	id, err := uuid.Parse(record.ID)
	if err != nil {
		return nil, fmt.Errorf("parse reserve id: %w", err)
	}
	reserve := &lending.Reserve{
		ID:                  id,
		LastUpdateTimestamp: record.LastUpdateTimestamp,
	}
	if err := json.Unmarshal([]byte(record.Params), &reserve.Params); err != nil {
		return nil, fmt.Errorf("decode reserve params: %w", err)
	}
	fields := []struct {
		raw  string
		dest *fixedpoint.Value
	}{
		{record.AvailableLiquidity, &reserve.AvailableLiquidity},
		{record.TotalBorrowed, &reserve.TotalBorrowed},
		{record.BorrowIndex, &reserve.BorrowIndex},
		{record.SupplyIndex, &reserve.SupplyIndex},
		{record.FeesProtocol, &reserve.Fees.Protocol},
	}
	for _, field := range fields {
		value, err := fixedpoint.ParseRaw(field.raw)
		if err != nil {
			return nil, fmt.Errorf("decode reserve value %q: %w", field.raw, err)
		}
		*field.dest = value
	}
	return reserve, nil
}

func encodePosition(position *lending.Position) (positionRecord, error) {
	collateral, err := encodeShareMap(position.Collateral)
	if err != nil {
		return positionRecord{}, fmt.Errorf("encode collateral: %w", err)
	}
	debt, err := encodeShareMap(position.Debt)
	if err != nil {
		return positionRecord{}, fmt.Errorf("encode debt: %w", err)
	}
	return positionRecord{
		ID:         position.ID.String(),
		Owner:      position.Owner.Hex(),
		Collateral: collateral,
		Debt:       debt,
	}, nil
}

func decodePosition(record positionRecord) (*lending.Position, error) {
	id, err := uuid.Parse(record.ID)
	if err != nil {
		return nil, fmt.Errorf("parse position id: %w", err)
	}
	if !common.IsHexAddress(record.Owner) {
		return nil, fmt.Errorf("parse owner address %q", record.Owner)
	}
	collateral, err := decodeShareMap(record.Collateral)
	if err != nil {
		return nil, fmt.Errorf("decode collateral: %w", err)
	}
	debt, err := decodeShareMap(record.Debt)
	if err != nil {
		return nil, fmt.Errorf("decode debt: %w", err)
	}
	return &lending.Position{
		ID:         id,
		Owner:      common.HexToAddress(record.Owner),
		Collateral: collateral,
		Debt:       debt,
	}, nil
}

func encodeShareMap(shares map[uuid.UUID]fixedpoint.Value) (string, error) {
	out := make(map[string]string, len(shares))
	for reserveID, value := range shares {
		out[reserveID.String()] = value.RawString()
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodeShareMap(encoded string) (map[uuid.UUID]fixedpoint.Value, error) {
	raw := make(map[string]string)
	if err := json.Unmarshal([]byte(encoded), &raw); err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]fixedpoint.Value, len(raw))
	for key, rawValue := range raw {
		reserveID, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("parse reserve id %q: %w", key, err)
		}
		value, err := fixedpoint.ParseRaw(rawValue)
		if err != nil {
			return nil, fmt.Errorf("parse shares %q: %w", rawValue, err)
		}
		out[reserveID] = value
	}
	return out, nil
}
