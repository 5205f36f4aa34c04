package nodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRegistry — реестр узлов в таблице nodes.
// Каждый Lookup читает БД, поэтому изменения видны без Reload;
// Reload только обновляет счётчик узлов.
type PostgresRegistry struct {
	db     DBTX
	logger *slog.Logger
	count  atomic.Int64
}

// NewPostgresRegistry создаёт реестр и выполняет первичную загрузку счётчика.
func NewPostgresRegistry(ctx context.Context, db DBTX, logger *slog.Logger) (*PostgresRegistry, error) {
	r := &PostgresRegistry{
		db:     db,
		logger: logger.With(slog.String("component", "nodes")),
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

const nodeColumns = `node_id, hostname, policy_server, key_hash`

// Lookup ищет узел по node_id, затем по hostname.
func (r *PostgresRegistry) Lookup(ctx context.Context, hostnameOrID string) (Node, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM nodes
		 WHERE node_id = $1 OR hostname = $1
		 ORDER BY (node_id = $1) DESC, node_id
		 LIMIT 1`,
		hostnameOrID,
	)

	node, err := scanNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Node{}, notFound(hostnameOrID)
	}
	if err != nil {
		return Node{}, fmt.Errorf("ошибка поиска узла %s: %w", hostnameOrID, err)
	}
	return node, nil
}

// List возвращает все узлы, упорядоченные по node_id.
func (r *PostgresRegistry) List(ctx context.Context) ([]Node, error) {
	rows, err := r.db.Query(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY node_id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка узлов: %w", err)
	}
	defer rows.Close()

	var result []Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования узла: %w", err)
		}
		result = append(result, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации по узлам: %w", err)
	}

	r.count.Store(int64(len(result)))
	return result, nil
}

// Reload пересчитывает число узлов.
func (r *PostgresRegistry) Reload(ctx context.Context) error {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&count); err != nil {
		return fmt.Errorf("ошибка подсчёта узлов: %w", err)
	}
	r.count.Store(count)

	r.logger.Info("Реестр узлов загружен",
		slog.String("source", "postgres"),
		slog.Int64("nodes", count),
	)
	return nil
}

// Count — число узлов на момент последнего Reload или List.
func (r *PostgresRegistry) Count() int {
	return int(r.count.Load())
}

// scanNode сканирует строку в Node. key_hash разбирается при чтении:
// некорректное значение в БД — ошибка, а не пустой ключ.
func scanNode(row pgx.Row) (Node, error) {
	var (
		node    Node
		keyHash string
	)
	if err := row.Scan(&node.ID, &node.Hostname, &node.PolicyServer, &keyHash); err != nil {
		return Node{}, err
	}

	parsed, err := ParseKeyHash(keyHash)
	if err != nil {
		return Node{}, fmt.Errorf("узел %s: %w", node.ID, err)
	}
	node.KeyHash = parsed
	return node, nil
}
