package database

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	db *gorm.DB
}

// Bet is one submitted order and its eventual resolution
type Bet struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	MarketID    string `gorm:"index"`
	ConditionID string
	OrderID     string
	Side        string          // "UP" or "DOWN"
	Amount      decimal.Decimal `gorm:"type:decimal(20,6)"`
	Status      string          `gorm:"index"` // "open", "won", "lost"
	Strategy    string
	PlacedAt    time.Time
	ResolvedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// New opens the bet ledger. A postgres:// path selects PostgreSQL, anything
// else is treated as a SQLite file path.
func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&Bet{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// SaveBet records a freshly submitted order
func (d *Database) SaveBet(bet *Bet) error {
	return d.db.Create(bet).Error
}

// ResolveBet marks the open bet for a market as won or lost
func (d *Database) ResolveBet(marketID, status string) error {
	now := time.Now()
	return d.db.Model(&Bet{}).
		Where("market_id = ? AND status = ?", marketID, "open").
		Updates(map[string]interface{}{"status": status, "resolved_at": &now}).Error
}

// RecentBets returns the newest bets, most recent first
func (d *Database) RecentBets(limit int) ([]Bet, error) {
	var bets []Bet
	err := d.db.Order("placed_at DESC").Limit(limit).Find(&bets).Error
	return bets, err
}

// Stats returns lifetime aggregates for the control surface
func (d *Database) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total, won, lost, open int64
	d.db.Model(&Bet{}).Count(&total)
	d.db.Model(&Bet{}).Where("status = ?", "won").Count(&won)
	d.db.Model(&Bet{}).Where("status = ?", "lost").Count(&lost)
	d.db.Model(&Bet{}).Where("status = ?", "open").Count(&open)

	stats["total_bets"] = total
	stats["won"] = won
	stats["lost"] = lost
	stats["open"] = open

	var staked struct {
		Total decimal.Decimal
	}
	d.db.Model(&Bet{}).Select("COALESCE(SUM(amount), 0) as total").Scan(&staked)
	stats["total_staked"] = staked.Total

	return stats, nil
}

// RecordBet satisfies the engine's ledger contract for placements
func (d *Database) RecordBet(marketID, conditionID, orderID, side string, amount decimal.Decimal, strategy string) error {
	return d.SaveBet(&Bet{
		MarketID:    marketID,
		ConditionID: conditionID,
		OrderID:     orderID,
		Side:        side,
		Amount:      amount,
		Status:      "open",
		Strategy:    strategy,
		PlacedAt:    time.Now(),
	})
}

// RecordResult satisfies the engine's ledger contract for resolutions
func (d *Database) RecordResult(marketID, result string) error {
	status := "lost"
	if result == "win" {
		status = "won"
	}
	return d.ResolveBet(marketID, status)
}
