package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// RunRecord 表示一轮运行结束后的落库结构。ID 是本副本生成的主键，RunID 是
// 协调器分配的运行标识，多个副本落库同一轮运行时 RunID 相同。
type RunRecord struct {
	ID              string
	RunID           string
	FinalStage      string
	Event           string
	BettingResult   bool
	BettingIPFSHash string
	HasPlacedBet    bool
	TxHash          string
	TxSubmitter     string
	CreatedAt       int64
}

// RunRepository 抽象运行历史的持久化接口。
type RunRepository interface {
	Save(ctx context.Context, record RunRecord) error
	ListLatest(ctx context.Context, limit int) ([]RunRecord, error)
}

// ErrUnsupportedDriver 表示配置了未知的存储驱动。
var ErrUnsupportedDriver = errors.New("暂不支持的存储驱动")

// Config 描述 MySQL 连接参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// SQLRunRepository 将运行记录写入 MySQL。
type SQLRunRepository struct {
	db *sql.DB
}

const createRunsTable = `
CREATE TABLE IF NOT EXISTS betting_runs (
	id VARCHAR(64) PRIMARY KEY,
	run_id VARCHAR(64) NOT NULL DEFAULT '',
	final_stage VARCHAR(32) NOT NULL,
	event VARCHAR(32) NOT NULL,
	betting_result TINYINT(1) NOT NULL,
	betting_ipfs_hash VARCHAR(128) NOT NULL DEFAULT '',
	has_placed_bet TINYINT(1) NOT NULL,
	tx_hash TEXT,
	tx_submitter VARCHAR(64) NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	KEY idx_created_at (created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// NewSQLRunRepository 建立连接并确保表结构存在。
func NewSQLRunRepository(ctx context.Context, cfg Config) (*SQLRunRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, createRunsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化运行历史表失败: %w", err)
	}
	return &SQLRunRepository{db: db}, nil
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	return db, nil
}

// Save 写入一条运行记录。
func (r *SQLRunRepository) Save(ctx context.Context, record RunRecord) error {
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	const query = `INSERT INTO betting_runs
		(id, run_id, final_stage, event, betting_result, betting_ipfs_hash, has_placed_bet, tx_hash, tx_submitter, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.RunID,
		record.FinalStage,
		record.Event,
		record.BettingResult,
		record.BettingIPFSHash,
		record.HasPlacedBet,
		record.TxHash,
		record.TxSubmitter,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入运行记录失败: %w", err)
	}
	return nil
}

// ListLatest 返回最近的运行记录，按时间倒序排列。
func (r *SQLRunRepository) ListLatest(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, run_id, final_stage, event, betting_result, betting_ipfs_hash,
		has_placed_bet, tx_hash, tx_submitter, created_at
		FROM betting_runs ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var record RunRecord
		var txHash sql.NullString
		if err := rows.Scan(
			&record.ID,
			&record.RunID,
			&record.FinalStage,
			&record.Event,
			&record.BettingResult,
			&record.BettingIPFSHash,
			&record.HasPlacedBet,
			&txHash,
			&record.TxSubmitter,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("解析运行记录失败: %w", err)
		}
		record.TxHash = txHash.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历运行记录失败: %w", err)
	}
	return records, nil
}

// Close 释放数据库连接。
func (r *SQLRunRepository) Close() error {
	return r.db.Close()
}
