package history

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "StarkFinder/internal/errors"
)

// MySQLRepository 使用 MySQL 持久化交易历史。
type MySQLRepository struct {
	db *sql.DB
}

// NewMySQLRepository 连接 MySQL 并确保表结构就绪。
func NewMySQLRepository(dsn string) (*MySQLRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	repo := &MySQLRepository{db: db}
	if err := repo.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *MySQLRepository) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS transaction_history (
        id VARCHAR(64) PRIMARY KEY,
        session_key VARCHAR(64) NOT NULL,
        intent_id VARCHAR(64) DEFAULT '',
        wallet_address VARCHAR(128) NOT NULL,
        action VARCHAR(64) DEFAULT '',
        description TEXT,
        outcome VARCHAR(16) NOT NULL,
        tx_hash VARCHAR(128) DEFAULT '',
        failure_code VARCHAR(64) DEFAULT '',
        created_at BIGINT NOT NULL,
        INDEX idx_history_session (session_key),
        INDEX idx_history_created (created_at)
)`

	if _, err := r.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 transaction_history 表失败")
	}
	return nil
}

// Append 插入一条历史记录。
func (r *MySQLRepository) Append(ctx context.Context, record *Record) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录 ID 不能为空")
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}

	const stmt = `INSERT INTO transaction_history
        (id, session_key, intent_id, wallet_address, action, description, outcome, tx_hash, failure_code, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, stmt,
		record.ID,
		record.SessionKey,
		record.IntentID,
		record.WalletAddress,
		record.Action,
		record.Description,
		string(record.Outcome),
		record.TxHash,
		record.FailureCode,
		record.CreatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入交易历史失败")
	}
	return nil
}

// List 按创建时间倒序返回记录。
func (r *MySQLRepository) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	opts.applyDefaults()

	query := `SELECT id, session_key, intent_id, wallet_address, action, description, outcome, tx_hash, failure_code, created_at
        FROM transaction_history`
	args := make([]any, 0, 2)
	if opts.SessionKey != "" {
		query += " WHERE session_key = ?"
		args = append(args, opts.SessionKey)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易历史失败")
	}
	defer rows.Close()

	records := make([]*Record, 0, opts.Limit)
	for rows.Next() {
		var record Record
		var outcome string
		if err := rows.Scan(
			&record.ID,
			&record.SessionKey,
			&record.IntentID,
			&record.WalletAddress,
			&record.Action,
			&record.Description,
			&outcome,
			&record.TxHash,
			&record.FailureCode,
			&record.CreatedAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析交易历史记录失败")
		}
		record.Outcome = Outcome(outcome)
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历交易历史失败")
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (r *MySQLRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	if err := r.db.Close(); err != nil && !stdErrors.Is(err, sql.ErrConnDone) {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "关闭 MySQL 连接失败")
	}
	return nil
}

var _ Repository = (*MySQLRepository)(nil)
