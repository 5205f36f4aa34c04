// Пакет wal — файловый Write-Ahead Log хранилища shared-файлов.
// Запись манифеста и содержимого — две операции на диске; WAL
// фиксирует их как одну транзакцию, чтобы после сбоя между ними
// не осталось записи с манифестом от одной загрузки и содержимым от другой.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в RELAY_WAL_DIR.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в WAL.
type OperationType string

const (
	// OpSharedFileWrite — запись манифеста и содержимого (upload)
	OpSharedFileWrite OperationType = "shared_file_write"
	// OpSharedFileDelete — удаление записи (GC по сроку жизни)
	OpSharedFileDelete OperationType = "shared_file_delete"
)

// TransactionStatus — статус транзакции WAL.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCommitted  TransactionStatus = "committed"
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись WAL. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	// TransactionID — UUID v4
	TransactionID string `json:"transaction_id"`

	Operation OperationType     `json:"operation"`
	Status    TransactionStatus `json:"status"`

	// Key — ключ записи {target_id}/{source_id}/{file_id}
	Key string `json:"key"`

	StartedAt time.Time `json:"started_at"`

	// CompletedAt — nil для pending транзакций.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

const walSuffix = ".wal.json"

func walFileName(txID string) string {
	return txID + walSuffix
}
